package model

import (
	"time"

	"gorm.io/datatypes"
)

const ServerTableName = "sideloader_server"

// Server 可部署主机, 由入站 checkin 和部署结果更新
type Server struct {
	BaseModel
	Name          string     `gorm:"size:255;not null;uniqueIndex" json:"name"`
	LastCheckin   *time.Time `gorm:"column:last_checkin" json:"last_checkin"`
	LastPuppetRun *time.Time `gorm:"column:last_puppet_run" json:"last_puppet_run"`
	Status        string     `gorm:"size:255;not null;default:''" json:"status"`

	// 变更标记, UI 侧维护, 核心只透传
	Change bool `gorm:"not null;default:false" json:"change"`

	// 代理可达性状态, 部署异常时写入异常文本
	SpecterStatus string `gorm:"column:specter_status;size:255;not null;default:''" json:"specter_status"`

	// checkin 上报的原始负载
	CheckinData datatypes.JSONMap `gorm:"column:checkin_data;type:json" json:"checkin_data"`
}

// TableName 指定表名
func (Server) TableName() string {
	return ServerTableName
}

const TargetTableName = "sideloader_target"

// Target (flow, server) 部署绑定, 跟踪单服务器的发布状态
type Target struct {
	BaseModel
	ServerID int64 `gorm:"column:server_id;not null;index" json:"server_id"`
	FlowID   int64 `gorm:"column:flow_id;not null;index" json:"flow_id"`

	// pkg/constants:DeployState (0:空闲 1:部署中 2:成功 3:失败)
	DeployState int8 `gorm:"column:deploy_state;not null;default:0" json:"deploy_state"`

	// 最近一次成功部署的构建
	CurrentBuildID *int64 `gorm:"column:current_build_id" json:"current_build_id"`
	Log            string `gorm:"type:text;not null;default:''" json:"log"`

	// 关联关系
	Server *Server      `gorm:"foreignKey:ServerID" json:"server,omitempty"`
	Flow   *ReleaseFlow `gorm:"foreignKey:FlowID" json:"flow,omitempty"`
}

// TableName 指定表名
func (Target) TableName() string {
	return TargetTableName
}
