package model

import "time"

type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// AllModels 返回全部模型, 用于测试建表
func AllModels() []interface{} {
	return []interface{}{
		&ReleaseStream{},
		&Project{},
		&BuildNumber{},
		&Build{},
		&ReleaseFlow{},
		&Release{},
		&ReleaseSignoff{},
		&Server{},
		&Target{},
		&WebHook{},
	}
}
