package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/core/release"
	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

func newReleaseService(t *testing.T) (ReleaseService, *gorm.DB, repository.ReleaseRepository) {
	t.Helper()

	db := newTestDB(t)
	releases := repository.NewReleaseRepository(db)
	flows := repository.NewFlowRepository(db)

	pipeline := release.NewPipeline(release.Options{
		Projects: repository.NewProjectRepository(db),
		Builds:   repository.NewBuildRepository(db),
		Flows:    flows,
		Streams:  repository.NewStreamRepository(db),
		Releases: releases,
		Targets:  repository.NewTargetRepository(db),
		Servers:  repository.NewServerRepository(db),
		WebHooks: repository.NewWebHookRepository(db),
		Notifier: &nopNotifier{},
		Agents:   func(string) release.AgentClient { return nil },
	}, zap.NewNop())

	return NewReleaseService(pipeline, releases, flows, zap.NewNop()), db, releases
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, *notification.Message) error { return nil }

func TestReleaseServiceSign(t *testing.T) {
	svc, db, releases := newReleaseService(t)
	ctx := context.Background()

	project := &model.Project{Name: "takeoff", GithubURL: "g", Branch: "develop", IDHash: "h"}
	require.NoError(t, db.Create(project).Error)
	build := &model.Build{ProjectID: project.ID, BuildTime: time.Now().UTC(), State: constants.BuildStateSuccess, BuildFile: "takeoff_1.0_amd64.deb"}
	require.NoError(t, db.Create(build).Error)

	flow := &model.ReleaseFlow{
		Name:           "prod",
		ProjectID:      project.ID,
		StreamMode:     constants.StreamModeTargetOnly,
		RequireSignoff: true,
		Quorum:         1,
		SignoffList:    model.StringList{"ops@praekelt.com", "dev@praekelt.com"},
	}
	require.NoError(t, db.Create(flow).Error)

	created, err := svc.Create(ctx, &dto.ReleaseCreateRequest{BuildID: build.ID, FlowID: flow.ID})
	require.NoError(t, err)
	require.Len(t, created.Signoffs, 2)

	signoffs, err := releases.ListSignoffs(created.ID)
	require.NoError(t, err)
	require.Len(t, signoffs, 2)

	t.Run("无效令牌", func(t *testing.T) {
		_, err := svc.Sign(ctx, "bogus-token")
		assert.ErrorIs(t, err, pkgErrors.ErrInvalidSignoff)
	})

	t.Run("签核满足quorum后立即执行发布", func(t *testing.T) {
		resp, err := svc.Sign(ctx, signoffs[0].IDHash)
		require.NoError(t, err)
		assert.Equal(t, "Signed", resp.Message)
		assert.Equal(t, signoffs[0].Signatory, resp.Signatory)

		svc.Wait()

		got, err := releases.FindByID(created.ID)
		require.NoError(t, err)
		assert.False(t, got.Waiting)
		assert.False(t, got.Lock)
	})

	t.Run("重复签核是no-op", func(t *testing.T) {
		resp, err := svc.Sign(ctx, signoffs[0].IDHash)
		require.NoError(t, err)
		assert.Equal(t, "Already signed", resp.Message)
	})
}

func TestReleaseServiceRun(t *testing.T) {
	svc, db, releases := newReleaseService(t)
	ctx := context.Background()

	project := &model.Project{Name: "takeoff", GithubURL: "g", Branch: "develop", IDHash: "h"}
	require.NoError(t, db.Create(project).Error)
	build := &model.Build{ProjectID: project.ID, BuildTime: time.Now().UTC(), State: constants.BuildStateSuccess, BuildFile: "takeoff_1.0_amd64.deb"}
	require.NoError(t, db.Create(build).Error)
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
	require.NoError(t, db.Create(flow).Error)

	t.Run("未知发布报记录不存在", func(t *testing.T) {
		_, err := svc.Run(ctx, 999)
		assert.ErrorIs(t, err, pkgErrors.ErrRecordNotFound)
	})

	t.Run("手动执行交付发布", func(t *testing.T) {
		created, err := svc.Create(ctx, &dto.ReleaseCreateRequest{BuildID: build.ID, FlowID: flow.ID})
		require.NoError(t, err)

		_, err = svc.Run(ctx, created.ID)
		require.NoError(t, err)
		svc.Wait()

		got, err := releases.FindByID(created.ID)
		require.NoError(t, err)
		assert.False(t, got.Waiting)
		assert.False(t, got.Lock)
	})
}

func TestReleaseServiceGet(t *testing.T) {
	svc, db, _ := newReleaseService(t)
	ctx := context.Background()

	project := &model.Project{Name: "takeoff", GithubURL: "g", Branch: "develop", IDHash: "h"}
	require.NoError(t, db.Create(project).Error)
	build := &model.Build{ProjectID: project.ID, BuildTime: time.Now().UTC()}
	require.NoError(t, db.Create(build).Error)
	flow := &model.ReleaseFlow{Name: "qa", ProjectID: project.ID, StreamMode: constants.StreamModeTargetOnly}
	require.NoError(t, db.Create(flow).Error)

	at := time.Now().UTC().Add(time.Hour)
	created, err := svc.Create(ctx, &dto.ReleaseCreateRequest{BuildID: build.ID, FlowID: flow.ID, Scheduled: &at})
	require.NoError(t, err)

	got, err := svc.GetByID(created.ID)
	require.NoError(t, err)
	assert.True(t, got.Waiting)
	require.NotNil(t, got.Scheduled)

	gotFlow, err := svc.GetFlow(flow.ID)
	require.NoError(t, err)
	assert.Equal(t, "qa", gotFlow.Name)
	assert.Equal(t, constants.StreamModeTargetOnly, gotFlow.StreamMode)
}
