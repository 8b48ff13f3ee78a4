package model

import "time"

const ReleaseTableName = "sideloader_release"

// Release 一次 "流 F 发布构建 B" 的实例
//
// 不变式: 同一 flow 任意时刻至多一条 lock=true 的记录;
// waiting=false 为终态, 之后任何处理都是 no-op。
type Release struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	FlowID      int64      `gorm:"column:flow_id;not null;index:idx_flow_waiting" json:"flow_id"`
	BuildID     int64      `gorm:"column:build_id;not null" json:"build_id"`
	ReleaseDate time.Time  `gorm:"column:release_date;not null;autoCreateTime" json:"release_date"`
	Scheduled   *time.Time `json:"scheduled"`

	// waiting: 尚未完全交付; lock: 正在处理中(互斥标志, 非数据库锁)
	Waiting bool `gorm:"not null;default:true;index:idx_flow_waiting" json:"waiting"`
	Lock    bool `gorm:"not null;default:false" json:"lock"`

	// 关联关系
	Flow  *ReleaseFlow `gorm:"foreignKey:FlowID" json:"flow,omitempty"`
	Build *Build       `gorm:"foreignKey:BuildID" json:"build,omitempty"`
}

// TableName 指定表名
func (Release) TableName() string {
	return ReleaseTableName
}

const ReleaseSignoffTableName = "sideloader_releasesignoff"

// ReleaseSignoff 一条待签核记录, signed 只会 false→true 翻转一次
type ReleaseSignoff struct {
	BaseModel
	ReleaseID int64  `gorm:"column:release_id;not null;index" json:"release_id"`
	Signatory string `gorm:"size:255;not null" json:"signatory"`

	// 签核令牌, 回调鉴权使用
	IDHash string `gorm:"column:idhash;size:48;not null;uniqueIndex" json:"idhash"`
	Signed bool   `gorm:"not null;default:false" json:"signed"`

	// 关联关系
	Release *Release `gorm:"foreignKey:ReleaseID" json:"release,omitempty"`
}

// TableName 指定表名
func (ReleaseSignoff) TableName() string {
	return ReleaseSignoffTableName
}
