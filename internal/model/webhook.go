package model

const WebHookTableName = "sideloader_webhook"

// WebHook 发布成功后触发的 HTTP 回调, 响应异步回写
type WebHook struct {
	BaseModel
	FlowID      int64  `gorm:"column:flow_id;not null;index" json:"flow_id"`
	Description string `gorm:"size:255" json:"description"`
	URL         string `gorm:"size:255;not null" json:"url"`
	Method      string `gorm:"size:10;not null;default:POST" json:"method"`
	ContentType string `gorm:"column:content_type;size:100;not null;default:application/json" json:"content_type"`
	Payload     string `gorm:"type:text;not null;default:''" json:"payload"`

	// 最近一次响应体原文
	LastResponse string `gorm:"column:last_response;type:text;not null;default:''" json:"last_response"`

	// 关联关系
	Flow *ReleaseFlow `gorm:"foreignKey:FlowID" json:"flow,omitempty"`
}

// TableName 指定表名
func (WebHook) TableName() string {
	return WebHookTableName
}
