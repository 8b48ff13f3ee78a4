package dto

import "time"

// CheckinRequest 服务器上报请求, 代理周期调用
type CheckinRequest struct {
	Host string                 `json:"host" binding:"required"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// ServerResponse 服务器详情
type ServerResponse struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	LastCheckin   *time.Time `json:"last_checkin,omitempty"`
	LastPuppetRun *time.Time `json:"last_puppet_run,omitempty"`
	Status        string     `json:"status"`
	SpecterStatus string     `json:"specter_status"`
	Stale         bool       `json:"stale"` // 超过上报窗口未见心跳
}

// TargetResponse 部署目标详情
type TargetResponse struct {
	ID             int64  `json:"id"`
	ServerID       int64  `json:"server_id"`
	ServerName     string `json:"server_name"`
	FlowID         int64  `json:"flow_id"`
	DeployState    int8   `json:"deploy_state"`
	StateDesc      string `json:"state_desc"`
	CurrentBuildID *int64 `json:"current_build_id,omitempty"`
}
