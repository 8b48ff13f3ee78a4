package repository

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// ServerRepository 服务器仓储接口
type ServerRepository interface {
	FindByID(id int64) (*model.Server, error)
	FindByName(name string) (*model.Server, error)
	UpsertCheckin(name string, at time.Time, data datatypes.JSONMap) (*model.Server, error)
	SetStatus(id int64, status string) error
	SetSpecterStatus(id int64, status string) error
	SetPuppetRun(id int64, at time.Time) error
	List() ([]*model.Server, error)
}

type serverRepository struct {
	db *gorm.DB
}

// NewServerRepository 创建服务器仓储实例
func NewServerRepository(db *gorm.DB) ServerRepository {
	return &serverRepository{db: db}
}

// FindByID 根据ID查询服务器
func (r *serverRepository) FindByID(id int64) (*model.Server, error) {
	var server model.Server
	err := r.db.First(&server, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询服务器失败", err)
	}
	return &server, nil
}

// FindByName 根据主机名查询服务器
func (r *serverRepository) FindByName(name string) (*model.Server, error) {
	var server model.Server
	err := r.db.Where("name = ?", name).First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询服务器失败", err)
	}
	return &server, nil
}

// UpsertCheckin 按主机名更新 checkin 信息, 不存在则创建
func (r *serverRepository) UpsertCheckin(name string, at time.Time, data datatypes.JSONMap) (*model.Server, error) {
	server, err := r.FindByName(name)
	if err != nil {
		if !errors.Is(err, pkgErrors.ErrRecordNotFound) {
			return nil, err
		}
		server = &model.Server{Name: name}
	}

	server.LastCheckin = &at
	server.CheckinData = data
	if err := r.db.Save(server).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新服务器checkin失败", err)
	}
	return server, nil
}

// SetStatus 更新服务器状态文本
func (r *serverRepository) SetStatus(id int64, status string) error {
	err := r.db.Model(&model.Server{}).Where("id = ?", id).Update("status", status).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新服务器状态失败", err)
	}
	return nil
}

// SetSpecterStatus 更新代理可达性状态
func (r *serverRepository) SetSpecterStatus(id int64, status string) error {
	err := r.db.Model(&model.Server{}).Where("id = ?", id).Update("specter_status", status).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新代理状态失败", err)
	}
	return nil
}

// SetPuppetRun 记录最近一次成功的puppet执行时间
func (r *serverRepository) SetPuppetRun(id int64, at time.Time) error {
	err := r.db.Model(&model.Server{}).Where("id = ?", id).Update("last_puppet_run", at).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新puppet执行时间失败", err)
	}
	return nil
}

// List 查询全部服务器
func (r *serverRepository) List() ([]*model.Server, error) {
	var servers []*model.Server
	err := r.db.Order("name ASC").Find(&servers).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询服务器列表失败", err)
	}
	return servers, nil
}
