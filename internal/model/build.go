package model

import "time"

const BuildTableName = "sideloader_build"

// Build 一次构建尝试, 仅由构建执行器修改
type Build struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID int64     `gorm:"column:project_id;not null;index:idx_project_state" json:"project_id"`
	BuildTime time.Time `gorm:"not null;autoCreateTime" json:"build_time"`

	// pkg/constants:BuildState (0:排队 1:成功 2:失败 3:取消)
	State int8 `gorm:"not null;default:0;index:idx_project_state" json:"state"`

	// 构建过程的合并输出, 增量追加, 可在构建中途查看
	Log string `gorm:"type:text;not null;default:''" json:"log"`

	// 产物文件名, 成功前为空
	BuildFile string `gorm:"column:build_file;size:255;not null;default:''" json:"build_file"`

	// 异步任务标识
	TaskID string `gorm:"column:task_id;size:64" json:"task_id"`

	// 关联关系
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// TableName 指定表名
func (Build) TableName() string {
	return BuildTableName
}
