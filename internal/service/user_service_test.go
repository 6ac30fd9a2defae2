package service

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserService(env *testEnv) (UserService, *auth.TokenManager) {
	tokens := auth.NewTokenManager("test-secret", "repair-gin", time.Hour)
	return NewUserService(env.users, env.departments, env.deps.Monitors, tokens, env.auditLog), tokens
}

func TestUserService_SeedAdminIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newTestUserService(env)
	ctx := context.Background()

	admin, created, err := svc.SeedAdmin(ctx, "root", "changeme123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, admin.IsSeedAdmin)
	assert.Equal(t, model.RoleAdmin, admin.Role)

	again, created, err := svc.SeedAdmin(ctx, "other", "changeme123")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, admin.ID, again.ID)

	p := auth.PrincipalFromUser(admin)
	assert.True(t, p.Caps.IsAdmin())
	assert.True(t, p.Caps.CanManageSettings())
}

func TestUserService_Login(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "t1", model.RoleTechnician, "")
	svc, tokens := newTestUserService(env)

	res, err := svc.Login(context.Background(), &LoginRequest{Username: "t1", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.User.UserID)

	userID, err := tokens.UserIDFromToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "t1", userID)

	_, err = svc.Login(context.Background(), &LoginRequest{Username: "t1", Password: "bad"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), &LoginRequest{Username: "nobody", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_CreateRequiresSettings(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "manager", model.RoleTechnician, "", "settings")
	env.addUser(t, "t1", model.RoleTechnician, "")
	env.addDepartment(t, "d1", "Hardware", "")
	svc, _ := newTestUserService(env)

	_, err := svc.Create(env.as(t, "t1"), &CreateUserRequest{Username: "new", Password: "password1"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = svc.Create(env.as(t, "manager"), &CreateUserRequest{Username: "boss", Password: "password1", Role: model.RoleAdmin})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = svc.Create(env.as(t, "manager"), &CreateUserRequest{Username: "new", Password: "password1", DepartmentID: "nope"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	created, err := svc.Create(env.as(t, "manager"), &CreateUserRequest{
		Username:     "clerk",
		Password:     "password1",
		Name:         "Front Desk",
		DepartmentID: "d1",
		Permissions:  map[string]bool{"receiveDevice": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", created.Name)
	assert.Equal(t, model.RoleTechnician, created.Role)
	assert.True(t, created.Caps.HasIntake())
	assert.False(t, created.Caps.CanDelete())

	me, err := svc.Me(env.as(t, "admin"))
	require.NoError(t, err)
	assert.Equal(t, "admin", me.UserID)
}

func TestUserService_SetDepartment(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newTestUserService(env)
	seed, _, err := svc.SeedAdmin(context.Background(), "root", "changeme123")
	require.NoError(t, err)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "mon", model.RoleTechnician, "d1")
	env.addUser(t, "t1", model.RoleTechnician, "d2")
	env.addDepartment(t, "d1", "Hardware", "mon")
	env.addDepartment(t, "d2", "Software", "")

	// 主管只能把人调入自己负责的部门
	moved, err := svc.SetDepartment(env.as(t, "mon"), "t1", &SetDepartmentRequest{DepartmentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "d1", moved.DepartmentID)
	_, err = svc.SetDepartment(env.as(t, "mon"), "t1", &SetDepartmentRequest{DepartmentID: "d2"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = svc.SetDepartment(env.as(t, "mon"), "t1", &SetDepartmentRequest{})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = svc.SetDepartment(env.as(t, "t1"), "mon", &SetDepartmentRequest{DepartmentID: "d1"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	admin := env.as(t, "admin")
	cleared, err := svc.SetDepartment(admin, "t1", &SetDepartmentRequest{})
	require.NoError(t, err)
	assert.Empty(t, cleared.DepartmentID)

	_, err = svc.SetDepartment(admin, "t1", &SetDepartmentRequest{DepartmentID: "missing"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	_, err = svc.SetDepartment(admin, "ghost", &SetDepartmentRequest{DepartmentID: "d1"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.SetDepartment(admin, seed.ID, &SetDepartmentRequest{DepartmentID: "d1"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	stored, err := env.users.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, stored.DepartmentID)
}

func TestUserService_SetDepartmentEnablesSelfAssign(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newTestUserService(env)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "")
	env.addDepartment(t, "d1", "Hardware", "")
	admin := env.as(t, "admin")
	r := env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d1"})

	_, err := env.flowSvc.AssignTechnician(env.as(t, "t1"), r.ID, &AssignTechnicianRequest{TechnicianID: "t1"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = svc.SetDepartment(admin, "t1", &SetDepartmentRequest{DepartmentID: "d1"})
	require.NoError(t, err)
	view, err := env.flowSvc.AssignTechnician(env.as(t, "t1"), r.ID, &AssignTechnicianRequest{TechnicianID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, view.Status)
}
