package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置,未配置的项使用默认值
func GetPoolConfig(cfg config.DatabaseConfig) *PoolConfig {
	pool := &PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = 10
	}
	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = 100
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = 3600
	}
	if pool.ConnMaxIdleTime == 0 {
		pool.ConnMaxIdleTime = 600
	}
	return pool
}

// dialector 根据驱动选择 gorm 方言
func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(BuildDSN(cfg)), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(cfg.DBName), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Connect 连接数据库
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := GetPoolConfig(cfg)
	// SQLite 单写者,内存库还按连接隔离
	if db.Dialector.Name() == "sqlite" {
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&model.RepairModel{},
		&model.UserModel{},
		&model.DepartmentModel{},
		&model.CounterModel{},
		&model.NotificationModel{},
		&model.PushSubscriptionModel{},
		&model.OutboxModel{},
		&model.AuditLogModel{},
	}
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// CreateIndexes 创建组合索引
func CreateIndexes(db *gorm.DB) error {
	statements := map[string]string{
		"idx_repairs_status_created":  "CREATE INDEX IF NOT EXISTS idx_repairs_status_created ON repairs(status, created_at)",
		"idx_repairs_tech_created":    "CREATE INDEX IF NOT EXISTS idx_repairs_tech_created ON repairs(technician_id, created_at)",
		"idx_repairs_dept_created":    "CREATE INDEX IF NOT EXISTS idx_repairs_dept_created ON repairs(current_department_id, created_at)",
		"idx_outbox_status_next":      "CREATE INDEX IF NOT EXISTS idx_outbox_status_next ON notification_outbox(status, next_attempt_at)",
		"idx_notifications_user_read": "CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read)",
		"idx_audit_resource":          "CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource_type, resource_id)",
	}
	for name, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
	}

	// PostgreSQL 的 JSONB 文档支持 GIN 索引
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_repairs_document_gin ON repairs USING GIN ((document::jsonb))").Error; err != nil {
			return fmt.Errorf("failed to create idx_repairs_document_gin: %w", err)
		}
	}

	return nil
}

// ConnectWithRetry 带重试的数据库连接
func ConnectWithRetry(cfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = Connect(cfg)
		if err == nil {
			return db, nil
		}

		if i < maxRetries-1 {
			logrus.WithError(err).WithField("attempt", i+1).Warn("database connection failed, retrying")
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(db *gorm.DB) bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx) == nil
}
