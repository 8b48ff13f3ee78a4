package model

import (
	"path"
	"strings"
)

const ProjectTableName = "sideloader_project"

// Project 项目, 核心只读(构建号计数器除外), 由 UI 创建维护
type Project struct {
	BaseModel
	Name      string `gorm:"size:255;not null" json:"name"`
	GithubURL string `gorm:"column:github_url;size:255;not null;uniqueIndex" json:"github_url"`
	Branch    string `gorm:"size:255;not null" json:"branch"`

	// 构建参数覆盖, 为空使用 buildpack 默认值
	DeployFile        string `gorm:"size:255;default:.deploy.yaml" json:"deploy_file"`
	BuildScript       string `gorm:"size:255" json:"build_script"`
	PostinstallScript string `gorm:"size:255" json:"postinstall_script"`
	PackageName       string `gorm:"size:255" json:"package_name"`
	PackageManager    string `gorm:"size:64;default:deb" json:"package_manager"` // deb/rpm
	DeployType        string `gorm:"size:64;default:virtualenv" json:"deploy_type"`

	// 不可变身份令牌, 入站构建触发使用
	IDHash string `gorm:"column:idhash;size:48;not null;uniqueIndex" json:"idhash"`

	// 通知配置
	Notifications bool   `gorm:"not null;default:false" json:"notifications"`
	SlackChannel  string `gorm:"size:100" json:"slack_channel"`

	ReleaseStreamID *int64 `gorm:"column:release_stream_id;index" json:"release_stream_id"`

	// 关联关系
	ReleaseStream *ReleaseStream `gorm:"foreignKey:ReleaseStreamID" json:"release_stream,omitempty"`
}

// TableName 指定表名
func (Project) TableName() string {
	return ProjectTableName
}

// RepoName 从源码地址解析仓库名: 末段路径去掉 .git 后缀
func (p *Project) RepoName() string {
	name := strings.TrimSuffix(p.GithubURL, "/")
	name = path.Base(name)
	return strings.TrimSuffix(name, ".git")
}

const BuildNumberTableName = "sideloader_buildnumbers"

// BuildNumber 按仓库名递增的构建号计数器, 严格递增且从不复用
type BuildNumber struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Package  string `gorm:"size:255;not null;uniqueIndex" json:"package"`
	BuildNum int    `gorm:"column:build_num;not null;default:0" json:"build_num"`
}

// TableName 指定表名
func (BuildNumber) TableName() string {
	return BuildNumberTableName
}
