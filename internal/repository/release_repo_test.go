package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/model"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

func createFlow(t *testing.T, db *gorm.DB, projectID int64, name string) *model.ReleaseFlow {
	t.Helper()

	flow := &model.ReleaseFlow{Name: name, ProjectID: projectID}
	require.NoError(t, db.Create(flow).Error)
	return flow
}

func createBuild(t *testing.T, db *gorm.DB, projectID int64) *model.Build {
	t.Helper()

	build := &model.Build{ProjectID: projectID, BuildTime: time.Now().UTC()}
	require.NoError(t, db.Create(build).Error)
	return build
}

func TestReleaseRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewReleaseRepository(db)
	project := createProject(t, db, "takeoff", "hash-release-repo")
	flow := createFlow(t, db, project.ID, "qa")
	build := createBuild(t, db, project.ID)

	newRelease := func(t *testing.T, date time.Time) *model.Release {
		rel := &model.Release{
			FlowID:      flow.ID,
			BuildID:     build.ID,
			ReleaseDate: date,
			Waiting:     true,
		}
		require.NoError(t, repo.Create(rel))
		return rel
	}

	t.Run("新发布等待且未加锁", func(t *testing.T) {
		rel := newRelease(t, time.Now().UTC())

		got, err := repo.FindByID(rel.ID)
		require.NoError(t, err)
		assert.True(t, got.Waiting)
		assert.False(t, got.Lock)

		pending, err := repo.ListWaitingUnlocked()
		require.NoError(t, err)
		assert.NotEmpty(t, pending)
	})

	t.Run("加锁与状态流转", func(t *testing.T) {
		rel := newRelease(t, time.Now().UTC())

		require.NoError(t, repo.SetLock(rel.ID, true))
		got, err := repo.FindByID(rel.ID)
		require.NoError(t, err)
		assert.True(t, got.Lock)

		// 分发结束: 解锁并脱离等待
		require.NoError(t, repo.SetState(rel.ID, false, false))
		got, err = repo.FindByID(rel.ID)
		require.NoError(t, err)
		assert.False(t, got.Lock)
		assert.False(t, got.Waiting)
	})

	t.Run("加锁的发布不出现在待处理列表", func(t *testing.T) {
		rel := newRelease(t, time.Now().UTC())
		require.NoError(t, repo.SetLock(rel.ID, true))

		pending, err := repo.ListWaitingUnlocked()
		require.NoError(t, err)
		for _, p := range pending {
			assert.NotEqual(t, rel.ID, p.ID)
		}
	})

	t.Run("检测更新的等待中发布", func(t *testing.T) {
		older := newRelease(t, time.Now().UTC().Add(-time.Hour))
		newer := newRelease(t, time.Now().UTC())

		exists, err := repo.NewerWaitingExists(flow.ID, older.ID, older.ReleaseDate)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.NewerWaitingExists(flow.ID, newer.ID, newer.ReleaseDate)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("无已交付发布时LastDelivered报记录不存在", func(t *testing.T) {
		project2 := createProject(t, db, "empty-flow-project", "hash-last-delivered")
		flow2 := createFlow(t, db, project2.ID, "empty")

		_, err := repo.LastDelivered(flow2.ID)
		assert.ErrorIs(t, err, pkgErrors.ErrRecordNotFound)
	})
}

func TestReleaseSignoffRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewReleaseRepository(db)
	project := createProject(t, db, "takeoff", "hash-signoff-repo")
	flow := createFlow(t, db, project.ID, "prod")
	build := createBuild(t, db, project.ID)

	rel := &model.Release{FlowID: flow.ID, BuildID: build.ID, ReleaseDate: time.Now().UTC(), Waiting: true}
	require.NoError(t, repo.Create(rel))

	t.Run("令牌查询与签核置位", func(t *testing.T) {
		signoff := &model.ReleaseSignoff{
			ReleaseID: rel.ID,
			Signatory: "ops@praekelt.com",
			IDHash:    "token-abc",
		}
		require.NoError(t, repo.CreateSignoff(signoff))

		got, err := repo.FindSignoffByHash("token-abc")
		require.NoError(t, err)
		assert.False(t, got.Signed)

		require.NoError(t, repo.MarkSigned(got.ID))

		got, err = repo.FindSignoffByHash("token-abc")
		require.NoError(t, err)
		assert.True(t, got.Signed)

		count, err := repo.SignedCount(rel.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("无效令牌", func(t *testing.T) {
		_, err := repo.FindSignoffByHash("no-such-token")
		assert.ErrorIs(t, err, pkgErrors.ErrInvalidSignoff)
	})

	t.Run("列出全部签核", func(t *testing.T) {
		signoff := &model.ReleaseSignoff{ReleaseID: rel.ID, Signatory: "dev@praekelt.com", IDHash: "token-def"}
		require.NoError(t, repo.CreateSignoff(signoff))

		all, err := repo.ListSignoffs(rel.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
