package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

// Pipeline 发布流水线
//
// 管理发布的完整生命周期: 创建、签核收集、排期、加锁与分发决策。
// 所有跨任务协调都经过存储层, 每次挂起点之后重新加载记录,
// 以容忍并发写入者。
type Pipeline struct {
	logger *zap.Logger

	projects repository.ProjectRepository
	builds   repository.BuildRepository
	flows    repository.FlowRepository
	streams  repository.StreamRepository
	releases repository.ReleaseRepository
	targets  repository.TargetRepository
	servers  repository.ServerRepository
	webhooks repository.WebHookRepository

	notifier notification.Notifier
	agents   AgentFactory
	executor StreamExecutor
	client   *http.Client

	serverURL   string
	packageDir  string
	downloadURL string

	// 后台任务追踪, 测试通过 Wait 观察 fire-and-forget 工作
	inflight sync.WaitGroup
}

// Options 流水线外部依赖与配置
type Options struct {
	Projects repository.ProjectRepository
	Builds   repository.BuildRepository
	Flows    repository.FlowRepository
	Streams  repository.StreamRepository
	Releases repository.ReleaseRepository
	Targets  repository.TargetRepository
	Servers  repository.ServerRepository
	WebHooks repository.WebHookRepository

	Notifier notification.Notifier
	Agents   AgentFactory
	Executor StreamExecutor
	Client   *http.Client

	ServerURL   string
	PackageDir  string
	DownloadURL string
}

// NewPipeline 创建发布流水线
func NewPipeline(opts Options, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		logger:      logger,
		projects:    opts.Projects,
		builds:      opts.Builds,
		flows:       opts.Flows,
		streams:     opts.Streams,
		releases:    opts.Releases,
		targets:     opts.Targets,
		servers:     opts.Servers,
		webhooks:    opts.WebHooks,
		notifier:    opts.Notifier,
		agents:      opts.Agents,
		executor:    opts.Executor,
		client:      opts.Client,
		serverURL:   opts.ServerURL,
		packageDir:  opts.PackageDir,
		downloadURL: opts.DownloadURL,
	}
	if p.executor == nil {
		p.executor = ShellExecutor{}
	}
	return p
}

// Wait 等待全部后台任务完成, 测试钩子
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

// CreateRelease 创建发布记录
//
// 有排期时通知管理员; 流要求签核时为每个签核人生成唯一令牌并发出请求。
func (p *Pipeline) CreateRelease(ctx context.Context, buildID, flowID int64, scheduled *time.Time) (*model.Release, error) {
	flow, err := p.flows.FindByID(flowID)
	if err != nil {
		return nil, err
	}
	if _, err := p.builds.FindByID(buildID); err != nil {
		return nil, err
	}

	release := &model.Release{
		FlowID:      flowID,
		BuildID:     buildID,
		ReleaseDate: time.Now().UTC(),
		Scheduled:   scheduled,
		Waiting:     true,
		Lock:        false,
	}
	if err := p.releases.Create(release); err != nil {
		return nil, err
	}

	log := p.logger.Sugar().With(zap.Int64("release_id", release.ID), zap.Int64("flow_id", flowID))
	log.Infof("创建发布: flow=%s build=%d", flow.Name, buildID)

	if scheduled != nil {
		p.notifyFlow(ctx, flow, notification.NotifyReleaseCreate,
			fmt.Sprintf("Release scheduled for flow %s at %s",
				flow.Name, scheduled.Format("2006-01-02 15:04")))
	}

	if flow.RequireSignoff {
		for _, signatory := range flow.SignoffList {
			signoff := &model.ReleaseSignoff{
				ReleaseID: release.ID,
				Signatory: signatory,
				IDHash:    uuid.NewString(),
				Signed:    false,
			}
			if err := p.releases.CreateSignoff(signoff); err != nil {
				return nil, err
			}
			p.notifyFlow(ctx, flow, notification.NotifySignoffRequest,
				fmt.Sprintf("Signoff requested from %s: %s/api/sign/%s",
					signatory, p.serverURL, signoff.IDHash))
		}
	}

	return release, nil
}

// CheckSchedule 排期门禁: 未排期或已到期
func (p *Pipeline) CheckSchedule(release *model.Release) bool {
	if release.Scheduled == nil {
		return true
	}
	return !time.Now().UTC().Before(*release.Scheduled)
}

// CheckSignoff 签核门禁
//
// 不要求签核恒通过; quorum 为0表示全部签核人都要签,
// 空签核人列表加 quorum 0 视为已满足。
func (p *Pipeline) CheckSignoff(release *model.Release, flow *model.ReleaseFlow) (bool, error) {
	if !flow.RequireSignoff {
		return true, nil
	}

	signed, err := p.releases.SignedCount(release.ID)
	if err != nil {
		return false, err
	}

	required := int64(flow.Quorum)
	if flow.Quorum == 0 {
		required = int64(len(flow.SignoffList))
	}
	return signed >= required, nil
}

// CleanStale 清理被取代的发布
//
// 同流存在更新的等待中发布, 或最近一次已交付发布比本条新,
// 则本条被取代: 直接标记完成, 永不分发。
func (p *Pipeline) CleanStale(ctx context.Context, release *model.Release) (bool, error) {
	newer, err := p.releases.NewerWaitingExists(release.FlowID, release.ID, release.ReleaseDate)
	if err != nil {
		return false, err
	}

	if !newer {
		last, err := p.releases.LastDelivered(release.FlowID)
		if err != nil {
			if errors.Is(err, pkgErrors.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		if !last.ReleaseDate.After(release.ReleaseDate) {
			return false, nil
		}
	}

	p.logger.Info("发布已被取代, 跳过分发",
		zap.Int64("release_id", release.ID),
		zap.Int64("flow_id", release.FlowID))
	return true, p.releases.SetState(release.ID, false, false)
}

// Tick 周期调度: 扫描等待中的发布, 清理过期项, 逐条异步执行
func (p *Pipeline) Tick(ctx context.Context) {
	releases, err := p.releases.ListWaitingUnlocked()
	if err != nil {
		p.logger.Error("扫描等待中发布失败", zap.Error(err))
		return
	}

	ids := lo.Map(releases, func(r *model.Release, _ int) int64 { return r.ID })
	p.logger.Debug(fmt.Sprintf("[ReleaseScanner] 待处理的发布 %v个: %v", len(releases), ids))

	for _, release := range releases {
		if _, err := p.CleanStale(ctx, release); err != nil {
			p.logger.Error("清理过期发布失败", zap.Int64("release_id", release.ID), zap.Error(err))
		}
	}

	// 每个流同一时刻至多一条在途发布
	skip := make(map[int64]bool)
	for _, release := range releases {
		if skip[release.FlowID] {
			continue
		}
		locked, err := p.releases.CountByFlow(release.FlowID, true, true)
		if err != nil {
			p.logger.Error("统计在途发布失败", zap.Int64("flow_id", release.FlowID), zap.Error(err))
			continue
		}
		if locked > 0 {
			skip[release.FlowID] = true
		}
	}

	// 清理后重新加载, 剩余的逐条异步执行
	releases, err = p.releases.ListWaitingUnlocked()
	if err != nil {
		p.logger.Error("重新扫描发布失败", zap.Error(err))
		return
	}

	for _, release := range releases {
		if skip[release.FlowID] {
			continue
		}
		id := release.ID
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			if err := p.RunRelease(ctx, id); err != nil {
				p.logger.Error("执行发布失败", zap.Int64("release_id", id), zap.Error(err))
			}
		}()
	}
}

// RunRelease 执行一次发布
//
// 重新加载后检查: 不再等待则为 no-op, 保证竞争下幂等。
// 门禁通过则加锁分发, 分发后无条件解锁并标记交付:
// 目标级失败记录在 Target 上, 不回滚发布。
func (p *Pipeline) RunRelease(ctx context.Context, releaseID int64) error {
	release, err := p.releases.FindByID(releaseID)
	if err != nil {
		return err
	}
	if !release.Waiting {
		return nil
	}

	flow, err := p.flows.FindByID(release.FlowID)
	if err != nil {
		return err
	}

	if !p.CheckSchedule(release) {
		return nil
	}
	ok, err := p.CheckSignoff(release, flow)
	if err != nil {
		return err
	}
	if !ok {
		// 条件未满足不是错误, 下个tick重试
		return nil
	}

	if err := p.releases.SetLock(release.ID, true); err != nil {
		return err
	}

	p.notifyFlow(ctx, flow, notification.NotifyReleaseStart,
		fmt.Sprintf("Release started for flow %s", flow.Name))

	// 流推送在前, 目标推送不受流推送结果影响: 两者是独立交付通道
	if flow.HasStream() {
		if err := p.streamRelease(ctx, release, flow); err != nil {
			p.logger.Error("包流推送失败", zap.Int64("release_id", release.ID), zap.Error(err))
		}
	}
	if flow.HasTargets() {
		p.PushTargets(ctx, release, flow)
	}

	if err := p.releases.SetState(release.ID, false, false); err != nil {
		return err
	}

	p.fireWebhooks(ctx, flow.ID)
	return nil
}

// streamRelease 执行包流推送命令
func (p *Pipeline) streamRelease(ctx context.Context, release *model.Release, flow *model.ReleaseFlow) error {
	if flow.StreamID == nil {
		return pkgErrors.New(pkgErrors.CodeDispatchError, "发布流未配置包流")
	}
	stream, err := p.streams.FindByID(*flow.StreamID)
	if err != nil {
		return err
	}
	build, err := p.builds.FindByID(release.BuildID)
	if err != nil {
		return err
	}

	output, err := p.executor.Push(ctx, stream.PushCommand, p.artifactPath(build))
	if err != nil {
		p.notifyFlow(ctx, flow, notification.NotifyStreamPush,
			fmt.Sprintf("Stream push failed for flow %s: %v", flow.Name, err))
		p.logger.Error("包流推送命令失败",
			zap.Int64("release_id", release.ID),
			zap.String("output", output),
			zap.Error(err))
		return err
	}

	p.notifyFlow(ctx, flow, notification.NotifyStreamPush,
		fmt.Sprintf("Stream push complete for flow %s", flow.Name))
	return nil
}

// notifyFlow 按流所属项目的通知配置发送, 尽力而为
func (p *Pipeline) notifyFlow(ctx context.Context, flow *model.ReleaseFlow, typ notification.NotificationType, text string) {
	channel := ""
	if settings, err := p.projects.GetNotificationSettings(flow.ProjectID); err == nil {
		if !settings.Notifications {
			return
		}
		channel = settings.SlackChannel
	}

	msg := &notification.Message{Type: typ, Text: text, Channel: channel}
	if err := p.notifier.Send(ctx, msg); err != nil {
		p.logger.Warn("发送发布通知失败", zap.Error(err))
	}
}
