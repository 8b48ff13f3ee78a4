package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// ReleaseRepository 发布记录仓储接口
type ReleaseRepository interface {
	Create(release *model.Release) error
	FindByID(id int64) (*model.Release, error)
	ListWaitingUnlocked() ([]*model.Release, error)
	CountByFlow(flowID int64, waiting, lock bool) (int64, error)
	LastDelivered(flowID int64) (*model.Release, error)
	SetLock(id int64, lock bool) error
	SetState(id int64, lock, waiting bool) error
	NewerWaitingExists(flowID, releaseID int64, releaseDate time.Time) (bool, error)

	CreateSignoff(signoff *model.ReleaseSignoff) error
	FindSignoffByHash(idhash string) (*model.ReleaseSignoff, error)
	MarkSigned(id int64) error
	SignedCount(releaseID int64) (int64, error)
	ListSignoffs(releaseID int64) ([]*model.ReleaseSignoff, error)
}

type releaseRepository struct {
	db *gorm.DB
}

// NewReleaseRepository 创建发布记录仓储实例
func NewReleaseRepository(db *gorm.DB) ReleaseRepository {
	return &releaseRepository{db: db}
}

// Create 创建发布记录
func (r *releaseRepository) Create(release *model.Release) error {
	if err := r.db.Create(release).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建发布记录失败", err)
	}
	return nil
}

// FindByID 根据ID查询发布记录
func (r *releaseRepository) FindByID(id int64) (*model.Release, error) {
	var release model.Release
	err := r.db.First(&release, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询发布记录失败", err)
	}
	return &release, nil
}

// ListWaitingUnlocked 查询等待中且未锁定的发布, 调度tick使用
func (r *releaseRepository) ListWaitingUnlocked() ([]*model.Release, error) {
	var releases []*model.Release
	err := r.db.Where("waiting = ? AND `lock` = ?", true, false).
		Order("id ASC").
		Find(&releases).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询等待中发布失败", err)
	}
	return releases, nil
}

// CountByFlow 按流统计指定 waiting/lock 组合的发布数
func (r *releaseRepository) CountByFlow(flowID int64, waiting, lock bool) (int64, error) {
	var count int64
	err := r.db.Model(&model.Release{}).
		Where("flow_id = ? AND waiting = ? AND `lock` = ?", flowID, waiting, lock).
		Count(&count).Error
	if err != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "统计发布记录失败", err)
	}
	return count, nil
}

// LastDelivered 查询流最近一次已交付的发布
func (r *releaseRepository) LastDelivered(flowID int64) (*model.Release, error) {
	var release model.Release
	err := r.db.Where("flow_id = ? AND waiting = ?", flowID, false).
		Order("release_date DESC").
		First(&release).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询已交付发布失败", err)
	}
	return &release, nil
}

// SetLock 设置互斥标志
func (r *releaseRepository) SetLock(id int64, lock bool) error {
	err := r.db.Model(&model.Release{}).Where("id = ?", id).Update("lock", lock).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新发布锁失败", err)
	}
	return nil
}

// SetState 同时更新 lock 与 waiting
func (r *releaseRepository) SetState(id int64, lock, waiting bool) error {
	err := r.db.Model(&model.Release{}).Where("id = ?", id).
		Updates(map[string]interface{}{"lock": lock, "waiting": waiting}).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新发布状态失败", err)
	}
	return nil
}

// CreateSignoff 创建签核记录
func (r *releaseRepository) CreateSignoff(signoff *model.ReleaseSignoff) error {
	if err := r.db.Create(signoff).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建签核记录失败", err)
	}
	return nil
}

// FindSignoffByHash 根据签核令牌查询
func (r *releaseRepository) FindSignoffByHash(idhash string) (*model.ReleaseSignoff, error) {
	var signoff model.ReleaseSignoff
	err := r.db.Where("idhash = ?", idhash).First(&signoff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrInvalidSignoff
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询签核记录失败", err)
	}
	return &signoff, nil
}

// MarkSigned 标记已签核, 只会 false→true 翻转一次
func (r *releaseRepository) MarkSigned(id int64) error {
	err := r.db.Model(&model.ReleaseSignoff{}).Where("id = ?", id).Update("signed", true).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新签核记录失败", err)
	}
	return nil
}

// SignedCount 统计已签核数量
func (r *releaseRepository) SignedCount(releaseID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.ReleaseSignoff{}).
		Where("release_id = ? AND signed = ?", releaseID, true).
		Count(&count).Error
	if err != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "统计签核记录失败", err)
	}
	return count, nil
}

// ListSignoffs 查询发布的全部签核记录
func (r *releaseRepository) ListSignoffs(releaseID int64) ([]*model.ReleaseSignoff, error) {
	var signoffs []*model.ReleaseSignoff
	err := r.db.Where("release_id = ?", releaseID).Find(&signoffs).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询签核记录失败", err)
	}
	return signoffs, nil
}

// NewerWaitingExists 是否存在同流更新的等待中发布, 过期清理使用
func (r *releaseRepository) NewerWaitingExists(flowID, releaseID int64, releaseDate time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&model.Release{}).
		Where("flow_id = ? AND waiting = ? AND id <> ? AND release_date > ?",
			flowID, true, releaseID, releaseDate).
		Count(&count).Error
	if err != nil {
		return false, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询同流发布失败", err)
	}
	return count > 0, nil
}
