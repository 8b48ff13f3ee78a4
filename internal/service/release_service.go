package service

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/core/release"
	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
)

// ReleaseService 发布服务接口
type ReleaseService interface {
	Create(ctx context.Context, req *dto.ReleaseCreateRequest) (*dto.ReleaseResponse, error)
	GetByID(id int64) (*dto.ReleaseResponse, error)
	Run(ctx context.Context, id int64) (*dto.ReleaseResponse, error)
	Sign(ctx context.Context, idhash string) (*dto.SignResponse, error)
	GetFlow(id int64) (*dto.FlowResponse, error)
	Wait()
}

type releaseService struct {
	pipeline *release.Pipeline
	releases repository.ReleaseRepository
	flows    repository.FlowRepository
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewReleaseService 创建发布服务实例
func NewReleaseService(pipeline *release.Pipeline, releases repository.ReleaseRepository, flows repository.FlowRepository, logger *zap.Logger) ReleaseService {
	return &releaseService{
		pipeline: pipeline,
		releases: releases,
		flows:    flows,
		logger:   logger,
	}
}

// Create 手动创建发布
func (s *releaseService) Create(ctx context.Context, req *dto.ReleaseCreateRequest) (*dto.ReleaseResponse, error) {
	var scheduled *time.Time
	if req.Scheduled != nil {
		utc := req.Scheduled.UTC()
		scheduled = &utc
	}

	rel, err := s.pipeline.CreateRelease(ctx, req.BuildID, req.FlowID, scheduled)
	if err != nil {
		return nil, err
	}
	return s.toReleaseResponse(rel)
}

// GetByID 查询发布详情, 含签核进度
func (s *releaseService) GetByID(id int64) (*dto.ReleaseResponse, error) {
	rel, err := s.releases.FindByID(id)
	if err != nil {
		return nil, err
	}
	return s.toReleaseResponse(rel)
}

// Run 手动执行发布
//
// 门禁检查由 RunRelease 自身完成, 未满足时保持等待不报错;
// 已结束的发布是 no-op。执行在后台进行。
func (s *releaseService) Run(ctx context.Context, id int64) (*dto.ReleaseResponse, error) {
	rel, err := s.releases.FindByID(id)
	if err != nil {
		return nil, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.pipeline.RunRelease(context.Background(), id); err != nil {
			s.logger.Error("手动执行发布失败", zap.Int64("release_id", id), zap.Error(err))
		}
	}()

	return s.toReleaseResponse(rel)
}

// Sign 处理签核回调
//
// 令牌换签核记录, 置位后立即重查门禁: 条件已满足就不等下个扫描周期,
// 直接在后台执行发布。重复签核是 no-op。
func (s *releaseService) Sign(ctx context.Context, idhash string) (*dto.SignResponse, error) {
	signoff, err := s.releases.FindSignoffByHash(idhash)
	if err != nil {
		return nil, err
	}

	resp := &dto.SignResponse{ReleaseID: signoff.ReleaseID, Signatory: signoff.Signatory}
	if signoff.Signed {
		resp.Message = "Already signed"
		return resp, nil
	}

	if err := s.releases.MarkSigned(signoff.ID); err != nil {
		return nil, err
	}
	resp.Message = "Signed"

	rel, err := s.releases.FindByID(signoff.ReleaseID)
	if err != nil {
		return nil, err
	}
	flow, err := s.flows.FindByID(rel.FlowID)
	if err != nil {
		return nil, err
	}
	ok, err := s.pipeline.CheckSignoff(rel, flow)
	if err != nil {
		return nil, err
	}
	if ok {
		releaseID := rel.ID
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			if err := s.pipeline.RunRelease(context.Background(), releaseID); err != nil {
				s.logger.Error("签核后执行发布失败", zap.Int64("release_id", releaseID), zap.Error(err))
			}
		}()
	}

	return resp, nil
}

// GetFlow 查询发布流详情
func (s *releaseService) GetFlow(id int64) (*dto.FlowResponse, error) {
	flow, err := s.flows.FindByID(id)
	if err != nil {
		return nil, err
	}
	return &dto.FlowResponse{
		ID:             flow.ID,
		Name:           flow.Name,
		ProjectID:      flow.ProjectID,
		StreamMode:     flow.StreamMode,
		StreamID:       flow.StreamID,
		RequireSignoff: flow.RequireSignoff,
		SignoffList:    flow.SignoffList,
		Quorum:         flow.Quorum,
		AutoRelease:    flow.AutoRelease,
	}, nil
}

// Wait 等待后台发布任务完成, 测试钩子
func (s *releaseService) Wait() {
	s.inflight.Wait()
	s.pipeline.Wait()
}

func (s *releaseService) toReleaseResponse(rel *model.Release) (*dto.ReleaseResponse, error) {
	signoffs, err := s.releases.ListSignoffs(rel.ID)
	if err != nil {
		return nil, err
	}
	return &dto.ReleaseResponse{
		ID:          rel.ID,
		FlowID:      rel.FlowID,
		BuildID:     rel.BuildID,
		ReleaseDate: rel.ReleaseDate,
		Scheduled:   rel.Scheduled,
		Waiting:     rel.Waiting,
		Lock:        rel.Lock,
		Signoffs: lo.Map(signoffs, func(so *model.ReleaseSignoff, _ int) *dto.SignoffResponse {
			return &dto.SignoffResponse{Signatory: so.Signatory, Signed: so.Signed}
		}),
	}, nil
}
