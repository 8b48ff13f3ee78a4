package repository

import (
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// TargetRepository 部署目标仓储接口
type TargetRepository interface {
	ListByFlow(flowID int64) ([]*model.Target, error)
	SetState(id int64, state int8) error
	SetLog(id int64, log string) error
	SetBuild(id int64, buildID int64) error
}

type targetRepository struct {
	db *gorm.DB
}

// NewTargetRepository 创建部署目标仓储实例
func NewTargetRepository(db *gorm.DB) TargetRepository {
	return &targetRepository{db: db}
}

// ListByFlow 查询流绑定的全部目标, 按存储顺序
func (r *targetRepository) ListByFlow(flowID int64) ([]*model.Target, error) {
	var targets []*model.Target
	err := r.db.Where("flow_id = ?", flowID).Order("id ASC").Find(&targets).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询部署目标失败", err)
	}
	return targets, nil
}

// SetState 更新目标部署状态
func (r *targetRepository) SetState(id int64, state int8) error {
	err := r.db.Model(&model.Target{}).Where("id = ?", id).Update("deploy_state", state).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新目标状态失败", err)
	}
	return nil
}

// SetLog 覆盖写目标部署日志
func (r *targetRepository) SetLog(id int64, log string) error {
	err := r.db.Model(&model.Target{}).Where("id = ?", id).Update("log", log).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新目标日志失败", err)
	}
	return nil
}

// SetBuild 记录目标当前部署的构建
func (r *targetRepository) SetBuild(id int64, buildID int64) error {
	err := r.db.Model(&model.Target{}).Where("id = ?", id).Update("current_build_id", buildID).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新目标构建失败", err)
	}
	return nil
}
