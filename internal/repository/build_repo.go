package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/pkg/constants"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// BuildRepository 构建记录仓储接口
type BuildRepository interface {
	Create(build *model.Build) error
	FindByID(id int64) (*model.Build, error)
	UpdateLog(id int64, log string) error
	SetState(id int64, state int8) error
	SetFile(id int64, file string) error
	ListByProject(projectID int64, limit int) ([]*model.Build, error)
	CountQueuedByProject(projectID int64) (int64, error)
}

type buildRepository struct {
	db *gorm.DB
}

// NewBuildRepository 创建构建记录仓储实例
func NewBuildRepository(db *gorm.DB) BuildRepository {
	return &buildRepository{db: db}
}

// Create 创建构建记录
func (r *buildRepository) Create(build *model.Build) error {
	if err := r.db.Create(build).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建构建记录失败", err)
	}
	return nil
}

// FindByID 根据ID查询构建记录
func (r *buildRepository) FindByID(id int64) (*model.Build, error) {
	var build model.Build
	err := r.db.First(&build, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询构建记录失败", err)
	}
	return &build, nil
}

// UpdateLog 覆盖写构建日志, 构建过程中增量持久化
func (r *buildRepository) UpdateLog(id int64, log string) error {
	err := r.db.Model(&model.Build{}).Where("id = ?", id).Update("log", log).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新构建日志失败", err)
	}
	return nil
}

// SetState 设置构建状态
func (r *buildRepository) SetState(id int64, state int8) error {
	err := r.db.Model(&model.Build{}).Where("id = ?", id).Update("state", state).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新构建状态失败", err)
	}
	return nil
}

// SetFile 记录产物文件名
func (r *buildRepository) SetFile(id int64, file string) error {
	err := r.db.Model(&model.Build{}).Where("id = ?", id).Update("build_file", file).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新构建产物失败", err)
	}
	return nil
}

// ListByProject 查询项目最近构建记录
func (r *buildRepository) ListByProject(projectID int64, limit int) ([]*model.Build, error) {
	if limit <= 0 {
		limit = 50
	}
	var builds []*model.Build
	err := r.db.Where("project_id = ?", projectID).
		Order("id DESC").
		Limit(limit).
		Find(&builds).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询项目构建记录失败", err)
	}
	return builds, nil
}

// CountQueuedByProject 统计项目排队中的构建, 触发去重使用
func (r *buildRepository) CountQueuedByProject(projectID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Build{}).
		Where("project_id = ? AND state = ?", projectID, constants.BuildStateQueued).
		Count(&count).Error
	if err != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "统计排队构建失败", err)
	}
	return count, nil
}

// BuildNumberRepository 构建号计数器仓储接口
type BuildNumberRepository interface {
	Get(pkg string) (int, error)
	Set(pkg string, num int) error
}

type buildNumberRepository struct {
	db *gorm.DB
}

// NewBuildNumberRepository 创建构建号仓储实例
func NewBuildNumberRepository(db *gorm.DB) BuildNumberRepository {
	return &buildNumberRepository{db: db}
}

// Get 查询仓库当前构建号, 不存在返回0
func (r *buildNumberRepository) Get(pkg string) (int, error) {
	var bn model.BuildNumber
	err := r.db.Where("package = ?", pkg).First(&bn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询构建号失败", err)
	}
	return bn.BuildNum, nil
}

// Set 写入仓库构建号, 不存在则创建
func (r *buildNumberRepository) Set(pkg string, num int) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "package"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"build_num": num}),
	}).Create(&model.BuildNumber{Package: pkg, BuildNum: num}).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新构建号失败", err)
	}
	return nil
}
