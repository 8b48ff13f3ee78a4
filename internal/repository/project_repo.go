package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// NotificationSettings 项目通知设置
type NotificationSettings struct {
	Name          string
	Notifications bool
	SlackChannel  string
}

// ProjectRepository 项目仓储接口
type ProjectRepository interface {
	FindByID(id int64) (*model.Project, error)
	FindByIDHash(idhash string) (*model.Project, error)
	GetNotificationSettings(id int64) (*NotificationSettings, error)
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建项目仓储实例
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// FindByID 根据ID查询项目
func (r *projectRepository) FindByID(id int64) (*model.Project, error) {
	var project model.Project
	err := r.db.Preload("ReleaseStream").First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询项目失败", err)
	}
	return &project, nil
}

// FindByIDHash 根据身份令牌查询项目, 入站构建触发使用
func (r *projectRepository) FindByIDHash(idhash string) (*model.Project, error) {
	var project model.Project
	err := r.db.Preload("ReleaseStream").Where("idhash = ?", idhash).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询项目失败", err)
	}
	return &project, nil
}

// GetNotificationSettings 查询项目通知设置
func (r *projectRepository) GetNotificationSettings(id int64) (*NotificationSettings, error) {
	var project model.Project
	err := r.db.Select("name", "notifications", "slack_channel").First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询项目通知设置失败", err)
	}
	return &NotificationSettings{
		Name:          project.Name,
		Notifications: project.Notifications,
		SlackChannel:  project.SlackChannel,
	}, nil
}
