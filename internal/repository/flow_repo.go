package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// FlowRepository 发布流仓储接口, 核心只读
type FlowRepository interface {
	FindByID(id int64) (*model.ReleaseFlow, error)
	ListAutoByProject(projectID int64) ([]*model.ReleaseFlow, error)
}

type flowRepository struct {
	db *gorm.DB
}

// NewFlowRepository 创建发布流仓储实例
func NewFlowRepository(db *gorm.DB) FlowRepository {
	return &flowRepository{db: db}
}

// FindByID 根据ID查询发布流
func (r *flowRepository) FindByID(id int64) (*model.ReleaseFlow, error) {
	var flow model.ReleaseFlow
	err := r.db.Preload("Stream").First(&flow, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询发布流失败", err)
	}
	return &flow, nil
}

// ListAutoByProject 查询项目下开启自动发布的流
func (r *flowRepository) ListAutoByProject(projectID int64) ([]*model.ReleaseFlow, error) {
	var flows []*model.ReleaseFlow
	err := r.db.Where("project_id = ? AND auto_release = ?", projectID, true).
		Find(&flows).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询自动发布流失败", err)
	}
	return flows, nil
}

// StreamRepository 包流仓储接口
type StreamRepository interface {
	FindByID(id int64) (*model.ReleaseStream, error)
}

type streamRepository struct {
	db *gorm.DB
}

// NewStreamRepository 创建包流仓储实例
func NewStreamRepository(db *gorm.DB) StreamRepository {
	return &streamRepository{db: db}
}

// FindByID 根据ID查询包流
func (r *streamRepository) FindByID(id int64) (*model.ReleaseStream, error) {
	var stream model.ReleaseStream
	err := r.db.First(&stream, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询包流失败", err)
	}
	return &stream, nil
}
