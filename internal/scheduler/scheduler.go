package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/pkg/config"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
)

// 超过该窗口未收到心跳的服务器降级为 offline
const offlineWindow = 10 * time.Minute

// Scheduler 调度器, 承载周期性巡检任务
type Scheduler struct {
	cron          *cron.Cron
	logger        *zap.Logger
	servers       repository.ServerRepository
	cronSchedules map[string]cron.EntryID // 存储任务ID，便于管理
}

// NewScheduler 创建调度器
func NewScheduler(db *gorm.DB, logger *zap.Logger) *Scheduler {
	// 创建 cron 实例（带秒级支持）
	c := cron.New(cron.WithSeconds())

	return &Scheduler{
		cron:          c,
		logger:        logger,
		servers:       repository.NewServerRepository(db),
		cronSchedules: make(map[string]cron.EntryID),
	}
}

// Start 启动调度器
func (s *Scheduler) Start(cfg *config.Config) error {
	log := s.logger.Sugar()

	log.Info("启动定时任务调度器...")

	// cron 表达式格式: 秒 分 时 日 月 周
	cronExpr := cfg.Core.SweepCron
	if cronExpr == "" {
		cronExpr = "0 * * * * *" // 默认: 每分钟
		log.Warn("未配置core.sweep_cron，使用默认值", zap.String("cron", cronExpr))
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if err := s.SweepServers(); err != nil {
			log.Errorf("服务器失联巡检任务执行失败: %v", err)
		}
	})

	if err != nil {
		log.Errorf("注册服务器巡检任务: %v 失败: %v", cronExpr, err)
		return err
	}

	s.cronSchedules["server_sweep"] = entryID
	log.Infof("服务器失联巡检任务已注册: %s entry_id=%d", cronExpr, entryID)

	// 启动 cron
	s.cron.Start()
	log.Info("定时任务调度器启动成功")

	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.logger.Info("正在停止定时任务调度器...")

	// 停止 cron（等待正在执行的任务完成）
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("定时任务调度器已停止")
}

// SweepServers 巡检服务器心跳, 超窗未见心跳的降级为 offline
func (s *Scheduler) SweepServers() error {
	servers, err := s.servers.List()
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-offlineWindow)
	for _, server := range servers {
		if server.Status == constants.ServerStatusOffline {
			continue
		}
		if server.LastCheckin == nil || server.LastCheckin.Before(cutoff) {
			s.logger.Warn("服务器超窗未上报, 标记为失联",
				zap.String("server", server.Name),
				zap.Timep("last_checkin", server.LastCheckin))
			if err := s.servers.SetStatus(server.ID, constants.ServerStatusOffline); err != nil {
				return err
			}
		}
	}
	return nil
}
