package release

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/praekelt/sideloader/internal/adapter/agent"
	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
)

// fakeNotifier 收集发出的通知
type fakeNotifier struct {
	mu       sync.Mutex
	messages []*notification.Message
}

func (f *fakeNotifier) Send(_ context.Context, msg *notification.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeNotifier) byType(typ notification.NotificationType) []*notification.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*notification.Message
	for _, m := range f.messages {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeAgent 按预设脚本响应代理调用
type fakeAgent struct {
	mu        sync.Mutex
	calls     []string
	installOK bool
	err       error
}

func okResponse() *agent.Response    { return &agent.Response{Stdout: "ok", Code: 0} }
func errorResponse() *agent.Response { return &agent.Response{Stderr: "boom", Code: 1} }

func (f *fakeAgent) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeAgent) StopAll(context.Context) (*agent.Response, error) {
	f.record("stop")
	return okResponse(), f.err
}

func (f *fakeAgent) StartAll(context.Context) (*agent.Response, error) {
	f.record("start")
	return okResponse(), f.err
}

func (f *fakeAgent) RestartAll(context.Context) (*agent.Response, error) {
	f.record("restart")
	return okResponse(), f.err
}

func (f *fakeAgent) InstallPackage(_ context.Context, pkg, url string) (*agent.Response, error) {
	f.record("install " + pkg)
	if f.err != nil {
		return nil, f.err
	}
	if !f.installOK {
		return errorResponse(), nil
	}
	return okResponse(), nil
}

func (f *fakeAgent) RunPuppet(context.Context) (*agent.Response, error) {
	f.record("puppet")
	return okResponse(), f.err
}

// fakeExecutor 记录包流推送调用
type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	paths    []string
	err      error
}

func (f *fakeExecutor) Push(_ context.Context, command, packagePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	f.paths = append(f.paths, packagePath)
	return "pushed", f.err
}

type pipelineFixture struct {
	db       *gorm.DB
	pipeline *Pipeline
	notifier *fakeNotifier
	executor *fakeExecutor
	agents   map[string]*fakeAgent
	releases repository.ReleaseRepository
	targets  repository.TargetRepository
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	notifier := &fakeNotifier{}
	executor := &fakeExecutor{}
	agents := make(map[string]*fakeAgent)

	fx := &pipelineFixture{
		db:       db,
		notifier: notifier,
		executor: executor,
		agents:   agents,
		releases: repository.NewReleaseRepository(db),
		targets:  repository.NewTargetRepository(db),
	}

	fx.pipeline = NewPipeline(Options{
		Projects: repository.NewProjectRepository(db),
		Builds:   repository.NewBuildRepository(db),
		Flows:    repository.NewFlowRepository(db),
		Streams:  repository.NewStreamRepository(db),
		Releases: fx.releases,
		Targets:  fx.targets,
		Servers:  repository.NewServerRepository(db),
		WebHooks: repository.NewWebHookRepository(db),
		Notifier: notifier,
		Agents: func(host string) AgentClient {
			if a, ok := agents[host]; ok {
				return a
			}
			a := &fakeAgent{installOK: true}
			agents[host] = a
			return a
		},
		Executor:    executor,
		ServerURL:   "http://sideloader.test",
		PackageDir:  "/var/lib/sideloader/packages",
		DownloadURL: "http://packages.test/sideloader",
	}, zap.NewNop())

	return fx
}

func (fx *pipelineFixture) createProject(t *testing.T, name string) *model.Project {
	t.Helper()
	project := &model.Project{
		Name:          name,
		GithubURL:     "https://github.com/praekelt/" + name + ".git",
		Branch:        "develop",
		IDHash:        "hash-" + name,
		Notifications: true,
	}
	require.NoError(t, fx.db.Create(project).Error)
	return project
}

func (fx *pipelineFixture) createBuild(t *testing.T, projectID int64, file string) *model.Build {
	t.Helper()
	build := &model.Build{
		ProjectID: projectID,
		BuildTime: time.Now().UTC(),
		State:     constants.BuildStateSuccess,
		BuildFile: file,
	}
	require.NoError(t, fx.db.Create(build).Error)
	return build
}

func (fx *pipelineFixture) createServerTarget(t *testing.T, flowID int64, host string) *model.Target {
	t.Helper()
	server := &model.Server{Name: host}
	require.NoError(t, fx.db.Create(server).Error)
	target := &model.Target{ServerID: server.ID, FlowID: flowID}
	require.NoError(t, fx.db.Create(target).Error)
	return target
}

func TestCreateRelease(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")

	t.Run("新发布等待且未加锁", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)
		assert.True(t, rel.Waiting)
		assert.False(t, rel.Lock)
	})

	t.Run("要求签核的流生成签核记录并逐人通知", func(t *testing.T) {
		flow := &model.ReleaseFlow{
			Name:           "prod",
			ProjectID:      project.ID,
			StreamMode:     constants.StreamModeTargetOnly,
			RequireSignoff: true,
			SignoffList:    model.StringList{"ops@praekelt.com", "dev@praekelt.com"},
		}
		require.NoError(t, fx.db.Create(flow).Error)

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)

		signoffs, err := fx.releases.ListSignoffs(rel.ID)
		require.NoError(t, err)
		require.Len(t, signoffs, 2)
		// 每人独立令牌
		assert.NotEqual(t, signoffs[0].IDHash, signoffs[1].IDHash)

		requests := fx.notifier.byType(notification.NotifySignoffRequest)
		assert.Len(t, requests, 2)
		assert.Contains(t, requests[0].Text, "/api/sign/")
	})

	t.Run("排期发布发出排期通知", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "scheduled", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)

		at := time.Now().UTC().Add(time.Hour)
		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, &at)
		require.NoError(t, err)
		require.NotNil(t, rel.Scheduled)

		assert.NotEmpty(t, fx.notifier.byType(notification.NotifyReleaseCreate))
	})
}

func TestCheckSignoff(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")

	makeFlow := func(t *testing.T, name string, quorum int, signers model.StringList) (*model.ReleaseFlow, *model.Release) {
		flow := &model.ReleaseFlow{
			Name:           name,
			ProjectID:      project.ID,
			StreamMode:     constants.StreamModeTargetOnly,
			RequireSignoff: true,
			Quorum:         quorum,
			SignoffList:    signers,
		}
		require.NoError(t, fx.db.Create(flow).Error)
		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)
		return flow, rel
	}

	sign := func(t *testing.T, releaseID int64, n int) {
		signoffs, err := fx.releases.ListSignoffs(releaseID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(signoffs), n)
		for i := 0; i < n; i++ {
			require.NoError(t, fx.releases.MarkSigned(signoffs[i].ID))
		}
	}

	t.Run("不要求签核恒满足", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "open", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)
		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)

		ok, err := fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("quorum为0要求全员签核", func(t *testing.T) {
		flow, rel := makeFlow(t, "all", 0, model.StringList{"a@x.com", "b@x.com"})

		ok, err := fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.False(t, ok)

		sign(t, rel.ID, 1)
		ok, err = fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.False(t, ok)

		sign(t, rel.ID, 2)
		ok, err = fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("quorum为1单人签核即满足", func(t *testing.T) {
		flow, rel := makeFlow(t, "one", 1, model.StringList{"a@x.com", "b@x.com"})

		sign(t, rel.ID, 1)
		ok, err := fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("空签核人列表加quorum0视为已满足", func(t *testing.T) {
		flow, rel := makeFlow(t, "empty", 0, nil)

		ok, err := fx.pipeline.CheckSignoff(rel, flow)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRunRelease(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")

	t.Run("目标流全链路交付", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)
		target := fx.createServerTarget(t, flow.ID, "qa-1.example.com")

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)

		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
		fx.pipeline.Wait()

		got, err := fx.releases.FindByID(rel.ID)
		require.NoError(t, err)
		assert.False(t, got.Waiting)
		assert.False(t, got.Lock)

		targets, err := fx.targets.ListByFlow(flow.ID)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, constants.DeployStateSuccess, targets[0].DeployState)
		require.NotNil(t, targets[0].CurrentBuildID)
		assert.Equal(t, build.ID, *targets[0].CurrentBuildID)
		_ = target

		assert.NotEmpty(t, fx.notifier.byType(notification.NotifyDeploySuccess))
	})

	t.Run("已结束的发布是no-op", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "noop", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)
		require.NoError(t, fx.releases.SetState(rel.ID, false, false))

		before := len(fx.notifier.byType(notification.NotifyReleaseStart))
		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
		assert.Len(t, fx.notifier.byType(notification.NotifyReleaseStart), before)
	})

	t.Run("排期未到不推进", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "later", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)

		at := time.Now().UTC().Add(time.Hour)
		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, &at)
		require.NoError(t, err)

		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))

		got, err := fx.releases.FindByID(rel.ID)
		require.NoError(t, err)
		assert.True(t, got.Waiting)
		assert.False(t, got.Lock)
	})

	t.Run("签核未满足不推进", func(t *testing.T) {
		flow := &model.ReleaseFlow{
			Name:           "gated",
			ProjectID:      project.ID,
			StreamMode:     constants.StreamModeTargetOnly,
			RequireSignoff: true,
			Quorum:         1,
			SignoffList:    model.StringList{"ops@praekelt.com"},
		}
		require.NoError(t, fx.db.Create(flow).Error)

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)

		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))

		got, err := fx.releases.FindByID(rel.ID)
		require.NoError(t, err)
		assert.True(t, got.Waiting)
	})

	t.Run("单目标失败不中断其余目标", func(t *testing.T) {
		flow := &model.ReleaseFlow{Name: "multi", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
		require.NoError(t, fx.db.Create(flow).Error)
		fx.createServerTarget(t, flow.ID, "bad.example.com")
		fx.createServerTarget(t, flow.ID, "good.example.com")

		// 第一台安装失败
		fx.agents["bad.example.com"] = &fakeAgent{installOK: false}

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)
		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
		fx.pipeline.Wait()

		targets, err := fx.targets.ListByFlow(flow.ID)
		require.NoError(t, err)
		require.Len(t, targets, 2)
		assert.Equal(t, constants.DeployStateFailed, targets[0].DeployState)
		assert.Equal(t, constants.DeployStateSuccess, targets[1].DeployState)

		// 发布整体照常结束
		got, err := fx.releases.FindByID(rel.ID)
		require.NoError(t, err)
		assert.False(t, got.Waiting)
		assert.False(t, got.Lock)
	})

	t.Run("流推送失败不阻断目标推送", func(t *testing.T) {
		stream := &model.ReleaseStream{Name: "apt", PushCommand: "push-to-repo %s"}
		require.NoError(t, fx.db.Create(stream).Error)
		flow := &model.ReleaseFlow{
			Name:       "both",
			ProjectID:  project.ID,
			StreamMode: constants.StreamModeStreamAndTarget,
			StreamID:   &stream.ID,
		}
		require.NoError(t, fx.db.Create(flow).Error)
		fx.createServerTarget(t, flow.ID, "both-1.example.com")

		fx.executor.err = assert.AnError

		rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
		require.NoError(t, err)
		require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
		fx.pipeline.Wait()
		fx.executor.err = nil

		targets, err := fx.targets.ListByFlow(flow.ID)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, constants.DeployStateSuccess, targets[0].DeployState)
	})
}

func TestStreamRelease(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")

	stream := &model.ReleaseStream{Name: "apt", PushCommand: "reprepro includedeb focal %s"}
	require.NoError(t, fx.db.Create(stream).Error)
	flow := &model.ReleaseFlow{
		Name:       "stream-only",
		ProjectID:  project.ID,
		StreamMode: constants.StreamModeStreamOnly,
		StreamID:   &stream.ID,
	}
	require.NoError(t, fx.db.Create(flow).Error)

	rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
	require.NoError(t, err)
	require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
	fx.pipeline.Wait()

	require.Len(t, fx.executor.commands, 1)
	assert.Equal(t, "reprepro includedeb focal %s", fx.executor.commands[0])
	assert.Equal(t, "/var/lib/sideloader/packages/takeoff_1.0_amd64.deb", fx.executor.paths[0])

	got, err := fx.releases.FindByID(rel.ID)
	require.NoError(t, err)
	assert.False(t, got.Waiting)
	assert.NotEmpty(t, fx.notifier.byType(notification.NotifyStreamPush))
}

func TestCleanStale(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
	require.NoError(t, fx.db.Create(flow).Error)

	t.Run("被更新的等待中发布取代", func(t *testing.T) {
		older := &model.Release{FlowID: flow.ID, BuildID: build.ID, ReleaseDate: time.Now().UTC().Add(-time.Hour), Waiting: true}
		require.NoError(t, fx.releases.Create(older))
		newer := &model.Release{FlowID: flow.ID, BuildID: build.ID, ReleaseDate: time.Now().UTC(), Waiting: true}
		require.NoError(t, fx.releases.Create(newer))

		stale, err := fx.pipeline.CleanStale(ctx, older)
		require.NoError(t, err)
		assert.True(t, stale)

		got, err := fx.releases.FindByID(older.ID)
		require.NoError(t, err)
		assert.False(t, got.Waiting)

		// 较新的一条不受影响
		stale, err = fx.pipeline.CleanStale(ctx, newer)
		require.NoError(t, err)
		assert.False(t, stale)
	})
}

func TestRunReleasePuppetRunStampsServer(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly, PuppetRun: true}
	require.NoError(t, fx.db.Create(flow).Error)
	fx.createServerTarget(t, flow.ID, "qa-1.example.com")

	rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
	require.NoError(t, err)
	require.NoError(t, fx.pipeline.RunRelease(ctx, rel.ID))
	fx.pipeline.Wait()

	assert.Contains(t, fx.agents["qa-1.example.com"].calls, "puppet")

	server, err := repository.NewServerRepository(fx.db).FindByName("qa-1.example.com")
	require.NoError(t, err)
	require.NotNil(t, server.LastPuppetRun)
	assert.WithinDuration(t, time.Now().UTC(), *server.LastPuppetRun, time.Minute)
}

func TestTickSkipsFlowWithInflightRelease(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
	require.NoError(t, fx.db.Create(flow).Error)
	fx.createServerTarget(t, flow.ID, "qa-1.example.com")

	// 同流已有一条在途(加锁)发布
	inflight := &model.Release{
		FlowID:      flow.ID,
		BuildID:     build.ID,
		ReleaseDate: time.Now().UTC().Add(-time.Minute),
		Waiting:     true,
		Lock:        true,
	}
	require.NoError(t, fx.db.Create(inflight).Error)

	pending, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
	require.NoError(t, err)

	fx.pipeline.Tick(ctx)
	fx.pipeline.Wait()

	// 本轮整个流被跳过, 等待中的发布原样保留
	got, err := fx.releases.FindByID(pending.ID)
	require.NoError(t, err)
	assert.True(t, got.Waiting)
	assert.False(t, got.Lock)

	locked, err := fx.releases.FindByID(inflight.ID)
	require.NoError(t, err)
	assert.True(t, locked.Waiting)
	assert.True(t, locked.Lock)

	targets, err := fx.targets.ListByFlow(flow.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, constants.DeployStateIdle, targets[0].DeployState)
}

func TestTickDeliversPendingReleases(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	project := fx.createProject(t, "takeoff")
	build := fx.createBuild(t, project.ID, "takeoff_1.0_amd64.deb")
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
	require.NoError(t, fx.db.Create(flow).Error)
	fx.createServerTarget(t, flow.ID, "qa-1.example.com")

	rel, err := fx.pipeline.CreateRelease(ctx, build.ID, flow.ID, nil)
	require.NoError(t, err)

	fx.pipeline.Tick(ctx)
	fx.pipeline.Wait()

	got, err := fx.releases.FindByID(rel.ID)
	require.NoError(t, err)
	assert.False(t, got.Waiting)
	assert.False(t, got.Lock)

	targets, err := fx.targets.ListByFlow(flow.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, constants.DeployStateSuccess, targets[0].DeployState)
}
