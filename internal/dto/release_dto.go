package dto

import "time"

// ReleaseCreateRequest 创建发布请求
type ReleaseCreateRequest struct {
	BuildID   int64      `json:"build_id" binding:"required"`
	FlowID    int64      `json:"flow_id" binding:"required"`
	Scheduled *time.Time `json:"scheduled,omitempty"`
}

// ReleaseScheduleRequest 定时发布请求
type ReleaseScheduleRequest struct {
	Scheduled time.Time `json:"scheduled" binding:"required"`
}

// ReleaseResponse 发布详情
type ReleaseResponse struct {
	ID          int64      `json:"id"`
	FlowID      int64      `json:"flow_id"`
	BuildID     int64      `json:"build_id"`
	ReleaseDate time.Time  `json:"release_date"`
	Scheduled   *time.Time `json:"scheduled,omitempty"`
	Waiting     bool       `json:"waiting"`
	Lock        bool       `json:"lock"`
	Signoffs    []*SignoffResponse `json:"signoffs,omitempty"`
}

// SignoffResponse 签核状态
type SignoffResponse struct {
	Signatory string `json:"signatory"`
	Signed    bool   `json:"signed"`
}

// SignResponse 签核回执
type SignResponse struct {
	ReleaseID int64  `json:"release_id"`
	Signatory string `json:"signatory"`
	Message   string `json:"message"`
}

// FlowResponse 发布流详情
type FlowResponse struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	ProjectID      int64    `json:"project_id"`
	StreamMode     int8     `json:"stream_mode"`
	StreamID       *int64   `json:"stream_id,omitempty"`
	RequireSignoff bool     `json:"require_signoff"`
	SignoffList    []string `json:"signoff_list,omitempty"`
	Quorum         int      `json:"quorum"`
	AutoRelease    bool     `json:"auto_release"`
}
