package release

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/adapter/agent"
	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/pkg/constants"
)

// AgentClient 部署代理操作, 测试中可替换为假实现
type AgentClient interface {
	StopAll(ctx context.Context) (*agent.Response, error)
	StartAll(ctx context.Context) (*agent.Response, error)
	RestartAll(ctx context.Context) (*agent.Response, error)
	InstallPackage(ctx context.Context, pkg, url string) (*agent.Response, error)
	RunPuppet(ctx context.Context) (*agent.Response, error)
}

// AgentFactory 按主机名创建代理客户端
type AgentFactory func(host string) AgentClient

// PushTargets 顺序向流的全部目标服务器部署
//
// 单个目标失败不会中断其余目标: 失败记录在该 Target 上,
// 发布整体照常结束。
func (p *Pipeline) PushTargets(ctx context.Context, release *model.Release, flow *model.ReleaseFlow) {
	targets, err := p.targets.ListByFlow(flow.ID)
	if err != nil {
		p.logger.Error("加载流目标失败", zap.Int64("flow_id", flow.ID), zap.Error(err))
		return
	}

	build, err := p.builds.FindByID(release.BuildID)
	if err != nil {
		p.logger.Error("加载发布对应构建失败", zap.Int64("release_id", release.ID), zap.Error(err))
		return
	}

	project, err := p.projects.FindByID(flow.ProjectID)
	if err != nil {
		p.logger.Error("加载流所属项目失败", zap.Int64("flow_id", flow.ID), zap.Error(err))
		return
	}

	for _, target := range targets {
		p.pushTarget(ctx, target, release, flow, project, build)
	}
}

func (p *Pipeline) pushTarget(ctx context.Context, target *model.Target, release *model.Release, flow *model.ReleaseFlow, project *model.Project, build *model.Build) {
	log := p.logger.With(zap.Int64("target_id", target.ID), zap.Int64("release_id", release.ID))

	server, err := p.servers.FindByID(target.ServerID)
	if err != nil {
		log.Error("加载目标服务器失败", zap.Error(err))
		_ = p.targets.SetState(target.ID, constants.DeployStateFailed)
		_ = p.targets.SetLog(target.ID, err.Error())
		return
	}

	if err := p.targets.SetState(target.ID, constants.DeployStateInProgress); err != nil {
		log.Error("更新目标状态失败", zap.Error(err))
		return
	}
	p.notifyFlow(ctx, flow, notification.NotifyDeployStart,
		fmt.Sprintf("Deployment of build %d started on %s", build.ID, server.Name))

	client := p.agents(server.Name)

	stopped := false
	deployLog := ""
	fail := func(detail string) {
		_ = p.targets.SetState(target.ID, constants.DeployStateFailed)
		_ = p.targets.SetLog(target.ID, deployLog+detail)
		p.notifyFlow(ctx, flow, notification.NotifyDeployFailed,
			fmt.Sprintf("Deployment of build %d failed on %s", build.ID, server.Name))
		// 预停过的服务要拉起来, 不能让目标停在黑屏状态
		if stopped {
			if _, err := client.StartAll(ctx); err != nil {
				log.Error("部署失败后重启服务失败", zap.Error(err))
			}
		}
	}
	transport := func(stage string, err error) {
		log.Error("代理请求失败", zap.String("stage", stage), zap.Error(err))
		_ = p.servers.SetSpecterStatus(server.ID, err.Error())
		fail(fmt.Sprintf("%s: %v", stage, err))
	}

	if flow.ServicePreStop {
		resp, err := client.StopAll(ctx)
		if err != nil {
			transport("stop", err)
			return
		}
		stopped = true
		deployLog += resp.CombinedOutput()
		if resp.Failed() {
			fail("")
			return
		}
	}

	pkg := project.PackageName
	if pkg == "" {
		pkg = project.RepoName()
	}
	url := p.downloadURL + "/" + build.BuildFile
	resp, err := client.InstallPackage(ctx, pkg, url)
	if err != nil {
		transport("install", err)
		return
	}
	deployLog += resp.CombinedOutput()
	if resp.Failed() {
		fail("")
		return
	}

	if flow.PuppetRun {
		resp, err := client.RunPuppet(ctx)
		if err != nil {
			transport("puppet", err)
			return
		}
		deployLog += resp.CombinedOutput()
		if resp.Failed() {
			fail("")
			return
		}
		if err := p.servers.SetPuppetRun(server.ID, time.Now().UTC()); err != nil {
			log.Warn("记录puppet执行时间失败", zap.Error(err))
		}
	}

	switch {
	case flow.ServicePreStop:
		resp, err := client.StartAll(ctx)
		if err != nil {
			transport("start", err)
			return
		}
		deployLog += resp.CombinedOutput()
		stopped = false
		if resp.Failed() {
			fail("")
			return
		}
	case flow.ServiceRestart:
		resp, err := client.RestartAll(ctx)
		if err != nil {
			transport("restart", err)
			return
		}
		deployLog += resp.CombinedOutput()
		if resp.Failed() {
			fail("")
			return
		}
	}

	_ = p.targets.SetLog(target.ID, deployLog)
	_ = p.targets.SetBuild(target.ID, build.ID)
	if err := p.targets.SetState(target.ID, constants.DeployStateSuccess); err != nil {
		log.Error("更新目标状态失败", zap.Error(err))
		return
	}
	p.notifyFlow(ctx, flow, notification.NotifyDeploySuccess,
		fmt.Sprintf("Deployment of build %d successful on %s", build.ID, server.Name))
}
