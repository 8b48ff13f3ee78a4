package constants

import "fmt"

// BuildState 构建状态
const (
	BuildStateQueued   int8 = 0 // 排队中
	BuildStateSuccess  int8 = 1 // 构建成功
	BuildStateFailed   int8 = 2 // 构建失败
	BuildStateCanceled int8 = 3 // 已取消
)

// int8 → string
var buildStateName = map[int8]string{
	BuildStateQueued:   "Queued",
	BuildStateSuccess:  "Success",
	BuildStateFailed:   "Failed",
	BuildStateCanceled: "Canceled",
}

// BuildStateToString int8 → string
func BuildStateToString(state int8) string {
	if name, ok := buildStateName[state]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", state)
}

// DeployState Target 部署状态
const (
	DeployStateIdle       int8 = 0 // 空闲
	DeployStateInProgress int8 = 1 // 部署中
	DeployStateSuccess    int8 = 2 // 部署成功
	DeployStateFailed     int8 = 3 // 部署失败
)

var deployStateName = map[int8]string{
	DeployStateIdle:       "Idle",
	DeployStateInProgress: "InProgress",
	DeployStateSuccess:    "Success",
	DeployStateFailed:     "Failed",
}

// DeployStateToString int8 → string
func DeployStateToString(state int8) string {
	if name, ok := deployStateName[state]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", state)
}

// StreamMode 发布流的分发模式
const (
	StreamModeStreamOnly      int8 = 0 // 仅推送到包流
	StreamModeTargetOnly      int8 = 1 // 仅推送到目标服务器
	StreamModeStreamAndTarget int8 = 2 // 先推流, 再推目标
)

// ServerStatus 服务器心跳状态
const (
	ServerStatusOnline  = "online"
	ServerStatusOffline = "offline"
)

// PackageManager 包管理器类型
const (
	PackageManagerDeb = "deb"
	PackageManagerRPM = "rpm"
)
