package service

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "secret-pass"

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// testEnv 服务层测试环境:内存数据库、仓储、流程引擎与各服务
type testEnv struct {
	db          *gorm.DB
	repairs     repository.RepairRepository
	users       repository.UserRepository
	departments repository.DepartmentRepository
	outbox      repository.OutboxRepository
	auditRepo   repository.AuditLogRepository
	deps        RepairDeps

	repairSvc RepairService
	flowSvc   FlowService
	auditLog  AuditLogService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.RepairModel{},
		&model.UserModel{},
		&model.DepartmentModel{},
		&model.CounterModel{},
		&model.NotificationModel{},
		&model.PushSubscriptionModel{},
		&model.OutboxModel{},
		&model.AuditLogModel{},
	))

	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &testEnv{
		db:          db,
		repairs:     repository.NewRepairRepository(db),
		users:       repository.NewUserRepository(db),
		departments: repository.NewDepartmentRepository(db),
		outbox:      repository.NewOutboxRepository(db),
		auditRepo:   repository.NewAuditLogRepository(db),
	}
	env.auditLog = NewAuditLogService(env.auditRepo, log)

	monitors := NewMonitorChecker(env.departments, nil)
	trail := workflow.NewTrail(log)
	engine := workflow.NewEngine(workflow.NewGuard(monitors), trail, workflow.WithClock(func() time.Time { return testNow }))

	env.deps = RepairDeps{
		Repairs:     env.repairs,
		Sequence:    repository.NewSequenceRepository(db),
		Users:       env.users,
		Departments: env.departments,
		Monitors:    monitors,
		Engine:      engine,
		Audit:       NewAuditService(trail, env.users, workflow.DefaultAuditWindow, log),
		AuditLog:    env.auditLog,
		Location:    time.UTC,
		Logger:      log,
	}
	env.repairSvc = NewRepairService(env.deps)
	env.flowSvc = NewFlowService(env.deps)
	return env
}

// addUser 直接写入用户,permissions 为结构化权限键
func (e *testEnv) addUser(t *testing.T, id, role, department string, permissions ...string) *model.UserModel {
	t.Helper()
	hash, err := utils.HashPassword(testPassword)
	require.NoError(t, err)

	u := &model.UserModel{
		ID:            id,
		Username:      id,
		PasswordHash:  hash,
		Role:          role,
		DepartmentID:  department,
		CommissionPct: 50,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if len(permissions) > 0 {
		perms := make(map[string]bool, len(permissions))
		for _, k := range permissions {
			perms[k] = true
		}
		raw, err := json.Marshal(perms)
		require.NoError(t, err)
		u.Permissions = datatypes.JSON(raw)
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) addDepartment(t *testing.T, id, name, monitor string) *model.DepartmentModel {
	t.Helper()
	d := &model.DepartmentModel{
		ID:        id,
		Name:      name,
		MonitorID: monitor,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, e.departments.Create(context.Background(), d))
	return d
}

// as 以某个用户身份构造请求上下文
func (e *testEnv) as(t *testing.T, id string) context.Context {
	t.Helper()
	u, err := e.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return auth.WithPrincipal(context.Background(), auth.PrincipalFromUser(u))
}

func (e *testEnv) createRepair(t *testing.T, ctx context.Context, req *CreateRepairRequest) *RepairView {
	t.Helper()
	if req.CustomerName == "" {
		req.CustomerName = "Alice"
	}
	if req.DeviceType == "" {
		req.DeviceType = "Phone"
	}
	v, err := e.repairSvc.Create(ctx, req)
	require.NoError(t, err)
	return v
}

func (e *testEnv) pendingOutbox(t *testing.T) []*model.OutboxModel {
	t.Helper()
	due, err := e.outbox.FindDue(context.Background(), testNow.Add(time.Hour), 100)
	require.NoError(t, err)
	return due
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
