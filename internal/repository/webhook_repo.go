package repository

import (
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// WebHookRepository 回调仓储接口
type WebHookRepository interface {
	ListByFlow(flowID int64) ([]*model.WebHook, error)
	SetLastResponse(id int64, response string) error
}

type webHookRepository struct {
	db *gorm.DB
}

// NewWebHookRepository 创建回调仓储实例
func NewWebHookRepository(db *gorm.DB) WebHookRepository {
	return &webHookRepository{db: db}
}

// ListByFlow 查询流配置的全部回调
func (r *webHookRepository) ListByFlow(flowID int64) ([]*model.WebHook, error) {
	var hooks []*model.WebHook
	err := r.db.Where("flow_id = ?", flowID).Order("id ASC").Find(&hooks).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询回调配置失败", err)
	}
	return hooks, nil
}

// SetLastResponse 回写最近一次响应体
func (r *webHookRepository) SetLastResponse(id int64, response string) error {
	err := r.db.Model(&model.WebHook{}).Where("id = ?", id).Update("last_response", response).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "回写回调响应失败", err)
	}
	return nil
}
