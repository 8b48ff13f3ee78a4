package repository

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/praekelt/sideloader/internal/model"
)

// newTestDB 每个测试一个独立的sqlite文件库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

func createProject(t *testing.T, db *gorm.DB, name, idhash string) *model.Project {
	t.Helper()

	project := &model.Project{
		Name:      name,
		GithubURL: "https://github.com/praekelt/" + name + ".git",
		Branch:    "develop",
		IDHash:    idhash,
	}
	require.NoError(t, db.Create(project).Error)
	return project
}
