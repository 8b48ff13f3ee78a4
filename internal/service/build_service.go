package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// 触发结果, 入站钩子的响应文案
const (
	TriggerResultBuilding = "Building"
	TriggerResultBusy     = "Already building"
	TriggerResultIgnored  = "Request ignored"
)

// BuildRunner 构建执行器, 同步跑完一次构建
type BuildRunner interface {
	Start(ctx context.Context, buildID int64) error
}

// BuildService 构建服务接口
type BuildService interface {
	Trigger(ctx context.Context, idhash, ref string) (*dto.BuildTriggerResponse, error)
	TriggerByProject(ctx context.Context, projectID int64) (*dto.BuildTriggerResponse, error)
	GetByID(id int64) (*dto.BuildResponse, error)
	GetOutput(id int64) (*dto.BuildOutputResponse, error)
	Cancel(id int64) error
	ListByProject(projectID int64, limit int) ([]*dto.BuildResponse, error)
	Wait()
}

type buildService struct {
	projects repository.ProjectRepository
	builds   repository.BuildRepository
	runner   BuildRunner
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewBuildService 创建构建服务实例
func NewBuildService(projects repository.ProjectRepository, builds repository.BuildRepository, runner BuildRunner, logger *zap.Logger) BuildService {
	return &buildService{
		projects: projects,
		builds:   builds,
		runner:   runner,
		logger:   logger,
	}
}

// Trigger 处理入站构建触发
//
// 带 ref 的请求只接受项目配置分支; 项目已有排队中构建时拒绝重复入列。
// 构建在后台执行, 响应立即返回。
func (s *buildService) Trigger(ctx context.Context, idhash, ref string) (*dto.BuildTriggerResponse, error) {
	project, err := s.projects.FindByIDHash(idhash)
	if err != nil {
		return nil, err
	}

	if ref != "" && refBranch(ref) != project.Branch {
		s.logger.Info("非目标分支的触发, 忽略",
			zap.Int64("project_id", project.ID),
			zap.String("ref", ref),
			zap.String("branch", project.Branch))
		return &dto.BuildTriggerResponse{Result: TriggerResultIgnored}, nil
	}

	return s.enqueue(project)
}

// TriggerByProject 运营侧手动触发构建, 复用入站钩子的排队去重
func (s *buildService) TriggerByProject(ctx context.Context, projectID int64) (*dto.BuildTriggerResponse, error) {
	project, err := s.projects.FindByID(projectID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(project)
}

// enqueue 入列一次构建并在后台执行, 项目已有排队中构建时拒绝重复入列
func (s *buildService) enqueue(project *model.Project) (*dto.BuildTriggerResponse, error) {
	queued, err := s.builds.CountQueuedByProject(project.ID)
	if err != nil {
		return nil, err
	}
	if queued > 0 {
		return &dto.BuildTriggerResponse{Result: TriggerResultBusy}, nil
	}

	build := &model.Build{
		ProjectID: project.ID,
		BuildTime: time.Now().UTC(),
		State:     constants.BuildStateQueued,
		TaskID:    uuid.NewString(),
	}
	if err := s.builds.Create(build); err != nil {
		return nil, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.runner.Start(context.Background(), build.ID); err != nil {
			s.logger.Error("构建执行失败", zap.Int64("build_id", build.ID), zap.Error(err))
		}
	}()

	return &dto.BuildTriggerResponse{Result: TriggerResultBuilding, BuildID: &build.ID}, nil
}

// GetByID 查询构建详情
func (s *buildService) GetByID(id int64) (*dto.BuildResponse, error) {
	build, err := s.builds.FindByID(id)
	if err != nil {
		return nil, err
	}
	return toBuildResponse(build), nil
}

// GetOutput 查询构建实时输出
func (s *buildService) GetOutput(id int64) (*dto.BuildOutputResponse, error) {
	build, err := s.builds.FindByID(id)
	if err != nil {
		return nil, err
	}
	return &dto.BuildOutputResponse{State: build.State, Log: build.Log}, nil
}

// Cancel 取消构建
//
// 只有排队中的构建可取消; 终态构建不可回退。
func (s *buildService) Cancel(id int64) error {
	build, err := s.builds.FindByID(id)
	if err != nil {
		return err
	}
	if build.State != constants.BuildStateQueued {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "构建已结束, 无法取消")
	}
	return s.builds.SetState(id, constants.BuildStateCanceled)
}

// ListByProject 按项目查询构建列表
func (s *buildService) ListByProject(projectID int64, limit int) ([]*dto.BuildResponse, error) {
	builds, err := s.builds.ListByProject(projectID, limit)
	if err != nil {
		return nil, err
	}
	return lo.Map(builds, func(b *model.Build, _ int) *dto.BuildResponse {
		return toBuildResponse(b)
	}), nil
}

// Wait 等待后台构建完成, 测试钩子
func (s *buildService) Wait() {
	s.inflight.Wait()
}

// refBranch 从 refs/heads/<branch> 提取分支名
func refBranch(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func toBuildResponse(build *model.Build) *dto.BuildResponse {
	return &dto.BuildResponse{
		ID:        build.ID,
		ProjectID: build.ProjectID,
		BuildTime: build.BuildTime,
		State:     build.State,
		StateDesc: constants.BuildStateToString(build.State),
		BuildFile: build.BuildFile,
		TaskID:    build.TaskID,
	}
}
