package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/pkg/constants"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
)

func TestBuildRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewBuildRepository(db)
	project := createProject(t, db, "takeoff", "hash-build-repo")

	t.Run("创建并查询构建", func(t *testing.T) {
		build := &model.Build{
			ProjectID: project.ID,
			BuildTime: time.Now().UTC(),
			State:     constants.BuildStateQueued,
		}
		require.NoError(t, repo.Create(build))
		require.NotZero(t, build.ID)

		got, err := repo.FindByID(build.ID)
		require.NoError(t, err)
		assert.Equal(t, project.ID, got.ProjectID)
		assert.Equal(t, constants.BuildStateQueued, got.State)
	})

	t.Run("不存在的构建返回记录不存在", func(t *testing.T) {
		_, err := repo.FindByID(99999)
		assert.ErrorIs(t, err, pkgErrors.ErrRecordNotFound)
	})

	t.Run("日志与状态更新", func(t *testing.T) {
		build := &model.Build{ProjectID: project.ID, BuildTime: time.Now().UTC()}
		require.NoError(t, repo.Create(build))

		require.NoError(t, repo.UpdateLog(build.ID, "cloning...\n"))
		require.NoError(t, repo.UpdateLog(build.ID, "cloning...\npackaging...\n"))
		require.NoError(t, repo.SetState(build.ID, constants.BuildStateSuccess))
		require.NoError(t, repo.SetFile(build.ID, "takeoff_1.0_amd64.deb"))

		got, err := repo.FindByID(build.ID)
		require.NoError(t, err)
		assert.Equal(t, "cloning...\npackaging...\n", got.Log)
		assert.Equal(t, constants.BuildStateSuccess, got.State)
		assert.Equal(t, "takeoff_1.0_amd64.deb", got.BuildFile)
	})

	t.Run("统计排队中的构建", func(t *testing.T) {
		other := createProject(t, db, "sideloader-web", "hash-queued-count")

		count, err := repo.CountQueuedByProject(other.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		build := &model.Build{ProjectID: other.ID, BuildTime: time.Now().UTC(), State: constants.BuildStateQueued}
		require.NoError(t, repo.Create(build))

		count, err = repo.CountQueuedByProject(other.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)

		// 终态构建不计入
		require.NoError(t, repo.SetState(build.ID, constants.BuildStateFailed))
		count, err = repo.CountQueuedByProject(other.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestBuildNumberRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewBuildNumberRepository(db)

	t.Run("未知仓库构建号为0", func(t *testing.T) {
		num, err := repo.Get("never-built")
		require.NoError(t, err)
		assert.Zero(t, num)
	})

	t.Run("构建号只增不回退", func(t *testing.T) {
		require.NoError(t, repo.Set("takeoff", 1))
		require.NoError(t, repo.Set("takeoff", 2))

		num, err := repo.Get("takeoff")
		require.NoError(t, err)
		assert.Equal(t, 2, num)
	})

	t.Run("不同仓库独立计数", func(t *testing.T) {
		require.NoError(t, repo.Set("alpha", 7))
		require.NoError(t, repo.Set("beta", 3))

		num, err := repo.Get("alpha")
		require.NoError(t, err)
		assert.Equal(t, 7, num)

		num, err = repo.Get("beta")
		require.NoError(t, err)
		assert.Equal(t, 3, num)
	})
}
