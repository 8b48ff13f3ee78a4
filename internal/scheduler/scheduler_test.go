package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/pkg/constants"
)

func TestSweepServers(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	fresh := time.Now().UTC()
	stale := time.Now().UTC().Add(-time.Hour)

	alive := &model.Server{Name: "alive.example.com", LastCheckin: &fresh, Status: constants.ServerStatusOnline}
	require.NoError(t, db.Create(alive).Error)
	dead := &model.Server{Name: "dead.example.com", LastCheckin: &stale, Status: constants.ServerStatusOnline}
	require.NoError(t, db.Create(dead).Error)
	never := &model.Server{Name: "never.example.com"}
	require.NoError(t, db.Create(never).Error)

	s := NewScheduler(db, zap.NewNop())
	require.NoError(t, s.SweepServers())

	var got model.Server
	require.NoError(t, db.First(&got, alive.ID).Error)
	assert.Equal(t, constants.ServerStatusOnline, got.Status)

	got = model.Server{}
	require.NoError(t, db.First(&got, dead.ID).Error)
	assert.Equal(t, constants.ServerStatusOffline, got.Status)

	got = model.Server{}
	require.NoError(t, db.First(&got, never.ID).Error)
	assert.Equal(t, constants.ServerStatusOffline, got.Status)
}
