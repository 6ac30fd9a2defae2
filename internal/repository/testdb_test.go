package repository_test

import (
	"testing"

	"github.com/mautops/repair-gin/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 创建迁移好的内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// 内存库按连接隔离,只保留一个连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&model.RepairModel{},
		&model.UserModel{},
		&model.DepartmentModel{},
		&model.CounterModel{},
		&model.NotificationModel{},
		&model.PushSubscriptionModel{},
		&model.OutboxModel{},
		&model.AuditLogModel{},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
