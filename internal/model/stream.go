package model

const ReleaseStreamTableName = "sideloader_releasestream"

// ReleaseStream 包流, 一条推送命令 (%s 占位产物路径)
type ReleaseStream struct {
	BaseModel
	Name        string `gorm:"size:255;not null" json:"name"`
	PushCommand string `gorm:"column:push_command;size:255;not null" json:"push_command"`
}

// TableName 指定表名
func (ReleaseStream) TableName() string {
	return ReleaseStreamTableName
}
