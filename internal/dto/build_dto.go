package dto

import "time"

// BuildTriggerRequest 入站构建触发请求 (仓库 push 钩子)
type BuildTriggerRequest struct {
	Ref string `json:"ref" form:"ref"` // refs/heads/<branch>, 为空不过滤分支
}

// BuildTriggerResponse 触发结果
type BuildTriggerResponse struct {
	Result  string `json:"result"` // Building / Already building / Request ignored
	BuildID *int64 `json:"build_id,omitempty"`
}

// BuildResponse 构建详情
type BuildResponse struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	BuildTime time.Time `json:"build_time"`
	State     int8      `json:"state"`
	StateDesc string    `json:"state_desc"`
	BuildFile string    `json:"build_file,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// BuildOutputResponse 构建实时输出, UI 轮询用
type BuildOutputResponse struct {
	State int8   `json:"state"`
	Log   string `json:"log"`
}

// BuildListQuery 构建列表查询
type BuildListQuery struct {
	ProjectID int64 `form:"project_id" binding:"required"`
	Limit     int   `form:"limit"`
}
