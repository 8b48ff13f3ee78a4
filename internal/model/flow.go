package model

import "github.com/praekelt/sideloader/pkg/constants"

const ReleaseFlowTableName = "sideloader_releaseflow"

// ReleaseFlow 发布流: 项目的具名部署策略, 由 UI 创建, 核心只读
type ReleaseFlow struct {
	BaseModel
	Name      string `gorm:"size:255;not null" json:"name"`
	ProjectID int64  `gorm:"column:project_id;not null;index" json:"project_id"`

	// pkg/constants:StreamMode (0:仅流 1:仅目标 2:流+目标)
	StreamMode int8   `gorm:"column:stream_mode;not null;default:0" json:"stream_mode"`
	StreamID   *int64 `gorm:"column:stream_id;index" json:"stream_id"`

	// 签核门禁
	RequireSignoff bool       `gorm:"column:require_signoff;not null;default:false" json:"require_signoff"`
	SignoffList    StringList `gorm:"column:signoff_list;type:text" json:"signoff_list"`
	Quorum         int        `gorm:"not null;default:0" json:"quorum"` // 0 表示需要全部签核

	// 定时发布通知
	Notify     bool       `gorm:"not null;default:false" json:"notify"`
	NotifyList StringList `gorm:"column:notify_list;type:text" json:"notify_list"`

	// 部署后动作, restart 与 pre_stop 互斥
	ServiceRestart bool `gorm:"column:service_restart;not null;default:true" json:"service_restart"`
	ServicePreStop bool `gorm:"column:service_pre_stop;not null;default:false" json:"service_pre_stop"`
	PuppetRun      bool `gorm:"column:puppet_run;not null;default:false" json:"puppet_run"`

	// 构建成功后自动创建发布
	AutoRelease bool `gorm:"column:auto_release;not null;default:false;index" json:"auto_release"`

	// 关联关系
	Project *Project       `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Stream  *ReleaseStream `gorm:"foreignKey:StreamID" json:"stream,omitempty"`
}

// TableName 指定表名
func (ReleaseFlow) TableName() string {
	return ReleaseFlowTableName
}

// HasStream 分发模式是否包含包流推送
func (f *ReleaseFlow) HasStream() bool {
	return f.StreamMode == constants.StreamModeStreamOnly ||
		f.StreamMode == constants.StreamModeStreamAndTarget
}

// HasTargets 分发模式是否包含目标服务器推送
func (f *ReleaseFlow) HasTargets() bool {
	return f.StreamMode == constants.StreamModeTargetOnly ||
		f.StreamMode == constants.StreamModeStreamAndTarget
}
