package service

import (
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
)

// 超过该窗口未收到心跳的服务器视为失联
const staleCheckinWindow = 10 * time.Minute

// ServerService 服务器服务接口
type ServerService interface {
	Checkin(req *dto.CheckinRequest) error
	GetByName(name string) (*dto.ServerResponse, error)
	List() ([]*dto.ServerResponse, error)
	ListTargets(flowID int64) ([]*dto.TargetResponse, error)
}

type serverService struct {
	servers repository.ServerRepository
	targets repository.TargetRepository
}

// NewServerService 创建服务器服务实例
func NewServerService(servers repository.ServerRepository, targets repository.TargetRepository) ServerService {
	return &serverService{servers: servers, targets: targets}
}

// Checkin 处理代理心跳上报, 首次上报自动注册
func (s *serverService) Checkin(req *dto.CheckinRequest) error {
	server, err := s.servers.UpsertCheckin(req.Host, time.Now().UTC(), datatypes.JSONMap(req.Data))
	if err != nil {
		return err
	}
	if server.Status != constants.ServerStatusOnline {
		return s.servers.SetStatus(server.ID, constants.ServerStatusOnline)
	}
	return nil
}

// GetByName 按主机名查询服务器
func (s *serverService) GetByName(name string) (*dto.ServerResponse, error) {
	server, err := s.servers.FindByName(name)
	if err != nil {
		return nil, err
	}
	return toServerResponse(server), nil
}

// List 查询全部服务器
func (s *serverService) List() ([]*dto.ServerResponse, error) {
	servers, err := s.servers.List()
	if err != nil {
		return nil, err
	}
	return lo.Map(servers, func(srv *model.Server, _ int) *dto.ServerResponse {
		return toServerResponse(srv)
	}), nil
}

// ListTargets 查询流的部署目标及状态
func (s *serverService) ListTargets(flowID int64) ([]*dto.TargetResponse, error) {
	targets, err := s.targets.ListByFlow(flowID)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.TargetResponse, 0, len(targets))
	for _, t := range targets {
		resp := &dto.TargetResponse{
			ID:             t.ID,
			ServerID:       t.ServerID,
			FlowID:         t.FlowID,
			DeployState:    t.DeployState,
			StateDesc:      constants.DeployStateToString(t.DeployState),
			CurrentBuildID: t.CurrentBuildID,
		}
		if server, err := s.servers.FindByID(t.ServerID); err == nil {
			resp.ServerName = server.Name
		}
		result = append(result, resp)
	}
	return result, nil
}

func toServerResponse(server *model.Server) *dto.ServerResponse {
	stale := server.LastCheckin == nil || time.Since(*server.LastCheckin) > staleCheckinWindow
	return &dto.ServerResponse{
		ID:            server.ID,
		Name:          server.Name,
		LastCheckin:   server.LastCheckin,
		LastPuppetRun: server.LastPuppetRun,
		Status:        server.Status,
		SpecterStatus: server.SpecterStatus,
		Stale:         stale,
	}
}
