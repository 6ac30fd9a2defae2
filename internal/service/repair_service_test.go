package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/integration"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairService_CreateAllocatesNumberAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "clerk", model.RoleTechnician, "", "receiveDevice")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addDepartment(t, "d1", "Hardware", "")

	ctx := env.as(t, "clerk")
	first := env.createRepair(t, ctx, &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t1", Price: 20})
	second := env.createRepair(t, ctx, &CreateRepairRequest{})

	assert.Equal(t, int64(1), first.RepairNumber)
	assert.Equal(t, int64(2), second.RepairNumber)

	// 指定部门和技术员时直接开始维修
	assert.Equal(t, workflow.StatusInProgress, first.Status)
	assert.Equal(t, "t1", first.TechnicianID)
	require.Len(t, first.Flows, 1)
	assert.Equal(t, 0, first.ActiveStage)
	assert.True(t, first.Tracking.Enabled)
	assert.NotEmpty(t, first.Tracking.Token)
	assert.NotEmpty(t, first.Logs)

	assert.Equal(t, workflow.StatusPending, second.Status)
	assert.Empty(t, second.Flows)
	assert.Equal(t, -1, second.ActiveStage)

	records := env.pendingOutbox(t)
	require.Len(t, records, 2)
	var created *model.OutboxModel
	for _, rec := range records {
		assert.Equal(t, integration.KindRepairCreated, rec.Kind)
		if rec.RepairID == first.ID {
			created = rec
		}
	}
	require.NotNil(t, created)

	var payload integration.NotificationPayload
	require.NoError(t, json.Unmarshal(created.Payload, &payload))
	assert.ElementsMatch(t, []string{"admin", "t1"}, payload.Recipients)
	assert.Equal(t, "New repair #1", payload.Message)
	assert.Equal(t, first.Tracking.Token, payload.TrackingToken)
}

func TestRepairService_CreateRequiresIntake(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "t1", model.RoleTechnician, "")

	_, err := env.repairSvc.Create(env.as(t, "t1"), &CreateRepairRequest{CustomerName: "Bob", DeviceType: "Laptop"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = env.repairSvc.Create(context.Background(), &CreateRepairRequest{CustomerName: "Bob", DeviceType: "Laptop"})
	assert.ErrorIs(t, err, auth.ErrNoPrincipal)
}

func TestRepairService_CreateValidatesReferences(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	ctx := env.as(t, "admin")

	_, err := env.repairSvc.Create(ctx, &CreateRepairRequest{CustomerName: "Bob", DeviceType: "Laptop", DepartmentID: "missing"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = env.repairSvc.Create(ctx, &CreateRepairRequest{CustomerName: "Bob", DeviceType: "Laptop", Price: -1})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = env.repairSvc.Create(ctx, &CreateRepairRequest{CustomerName: "Bob", DeviceType: "Laptop", TechnicianID: "ghost"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestRepairService_GetVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addUser(t, "mon", model.RoleTechnician, "d1")
	env.addUser(t, "other", model.RoleTechnician, "d2")
	env.addDepartment(t, "d1", "Hardware", "mon")

	r := env.createRepair(t, env.as(t, "admin"), &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t1"})

	for _, id := range []string{"admin", "t1", "mon"} {
		_, err := env.repairSvc.Get(env.as(t, id), r.ID)
		assert.NoError(t, err, id)
	}
	_, err := env.repairSvc.Get(env.as(t, "other"), r.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = env.repairSvc.Get(env.as(t, "admin"), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRepairService_ListScopesTechnicians(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addUser(t, "t2", model.RoleTechnician, "d1")
	env.addUser(t, "mon", model.RoleTechnician, "d2")
	env.addDepartment(t, "d1", "Hardware", "")
	env.addDepartment(t, "d2", "Software", "mon")

	admin := env.as(t, "admin")
	env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t1"})
	env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t2"})
	env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d2"})

	all, err := env.repairSvc.List(admin, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)

	own, err := env.repairSvc.List(env.as(t, "t1"), &ListRepairsRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), own.Total)
	assert.Equal(t, "t1", own.Items[0].TechnicianID)

	monitored, err := env.repairSvc.List(env.as(t, "mon"), &ListRepairsRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), monitored.Total)
	assert.Equal(t, "d2", monitored.Items[0].CurrentDepartmentID)

	_, err = env.repairSvc.List(admin, &ListRepairsRequest{Status: "bogus"})
	assert.ErrorIs(t, err, workflow.ErrInvalidStatus)
}

func TestRepairService_UpdateFieldsRecordsChanges(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{Price: 10})

	updated, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{
		"price":      raw(t, 25.5),
		"color":      raw(t, "black"),
		"finalPrice": raw(t, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, 25.5, updated.Price)
	assert.Equal(t, "black", updated.Color)
	require.NotNil(t, updated.FinalPrice)
	assert.Equal(t, 30.0, *updated.FinalPrice)
	assert.Equal(t, "admin", updated.UpdatedBy)

	reloaded, err := env.repairs.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)

	var update *workflow.UpdatePayload
	for _, e := range reloaded.Events {
		if p, ok := e.Payload.(workflow.UpdatePayload); ok {
			update = &p
		}
	}
	require.NotNil(t, update)
	fields := make([]string, 0, len(update.Changes))
	for _, c := range update.Changes {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []string{"price", "color", "finalPrice"}, fields)

	_, err = env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{"price": raw(t, -5)})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestRepairService_UpdateStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{})

	_, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{"status": raw(t, "returned")})
	assert.ErrorIs(t, err, workflow.ErrIllegalTransition)

	delivered, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{"status": raw(t, "delivered")})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveryDate)

	_, err = env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{"status": raw(t, "nope")})
	assert.ErrorIs(t, err, workflow.ErrInvalidStatus)
}

func TestRepairService_UpdateTechnicianStartsWaitingStage(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addDepartment(t, "d1", "Hardware", "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{DepartmentID: "d1"})
	require.Equal(t, workflow.StageWaiting, r.Flows[0].Status)

	updated, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{
		"technician": raw(t, "t1"),
		"status":     raw(t, "in-progress"),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, updated.Status)
	assert.Equal(t, "t1", updated.TechnicianID)
	require.Len(t, updated.Flows, 1)
	assert.Equal(t, "t1", updated.Flows[0].TechnicianID)
	assert.Equal(t, workflow.StageInProgress, updated.Flows[0].Status)
	require.NoError(t, updated.CheckInvariants())

	// 阶段技术员已同步,可以通过流程接口完成阶段
	_, err = env.flowSvc.CompleteStep(env.as(t, "t1"), r.ID, &CompleteStepRequest{})
	require.NoError(t, err)
}

func TestRepairService_UpdateTechnicianKeepsAssignedStage(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addUser(t, "t2", model.RoleTechnician, "d1")
	env.addDepartment(t, "d1", "Hardware", "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t1"})

	updated, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{"technician": raw(t, "t2")})
	require.NoError(t, err)
	assert.Equal(t, "t2", updated.TechnicianID)
	assert.Equal(t, "t1", updated.Flows[0].TechnicianID)
}

func TestRepairService_IntakeOnlyPrincipal(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "clerk", model.RoleTechnician, "", "addRepair")
	ctx := env.as(t, "clerk")

	r := env.createRepair(t, ctx, &CreateRepairRequest{TechnicianID: "clerk"})
	assert.Equal(t, "clerk", r.TechnicianID)
	assert.Empty(t, r.Flows)

	assert.ErrorIs(t, env.repairSvc.Delete(ctx, r.ID), workflow.ErrForbidden)

	_, err := env.repairSvc.Update(ctx, r.ID, map[string]json.RawMessage{
		"customerName": raw(t, "Mallory"),
		"password":     raw(t, testPassword),
	})
	assert.ErrorIs(t, err, ErrFieldNotAllowed)

	other := env.createRepair(t, ctx, &CreateRepairRequest{})
	_, err = env.repairSvc.Update(ctx, other.ID, map[string]json.RawMessage{"customerName": raw(t, "Mallory")})
	assert.ErrorIs(t, err, ErrFieldNotAllowed)

	reloaded, err := env.repairs.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", reloaded.CustomerName)
}

func TestRepairService_TechnicianStatusEdit(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "d1")
	env.addUser(t, "t2", model.RoleTechnician, "d1")
	env.addDepartment(t, "d1", "Hardware", "")
	r := env.createRepair(t, env.as(t, "admin"), &CreateRepairRequest{DepartmentID: "d1", TechnicianID: "t1"})

	tech := env.as(t, "t1")

	_, err := env.repairSvc.Update(tech, r.ID, map[string]json.RawMessage{"status": raw(t, "completed")})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = env.repairSvc.Update(tech, r.ID, map[string]json.RawMessage{
		"status":   raw(t, "completed"),
		"password": raw(t, "wrong"),
	})
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = env.repairSvc.Update(tech, r.ID, map[string]json.RawMessage{
		"status":       raw(t, "completed"),
		"customerName": raw(t, "Mallory"),
		"password":     raw(t, testPassword),
	})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = env.repairSvc.Update(env.as(t, "t2"), r.ID, map[string]json.RawMessage{
		"status":   raw(t, "completed"),
		"password": raw(t, testPassword),
	})
	assert.ErrorIs(t, err, ErrFieldNotAllowed)

	rejected, err := env.repairSvc.Update(tech, r.ID, map[string]json.RawMessage{
		"status":                 raw(t, "rejected"),
		"rejectedDeviceLocation": raw(t, "with_customer"),
		"password":               raw(t, testPassword),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, rejected.Status)
	assert.Equal(t, workflow.LocationWithCustomer, rejected.RejectedDeviceLocation)
	assert.Equal(t, -1, rejected.ActiveStage)
	require.NoError(t, rejected.CheckInvariants())
}

func TestRepairService_Delete(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{})

	assert.ErrorIs(t, env.repairSvc.Delete(env.as(t, "t1"), r.ID), workflow.ErrForbidden)

	require.NoError(t, env.repairSvc.Delete(ctx, r.ID))
	_, err := env.repairs.FindByID(context.Background(), r.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	logs, err := env.auditLog.ListByResource(context.Background(), "repair", r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "repair.delete", logs[0].Action)

	kinds := make([]string, 0)
	for _, rec := range env.pendingOutbox(t) {
		kinds = append(kinds, rec.Kind)
	}
	assert.Contains(t, kinds, integration.KindRepairDeleted)
}

func TestRepairService_ListByDepartment(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "mon", model.RoleTechnician, "")
	env.addUser(t, "member", model.RoleTechnician, "d1")
	env.addUser(t, "outsider", model.RoleTechnician, "d2")
	env.addDepartment(t, "d1", "Hardware", "mon")
	env.addDepartment(t, "d2", "Software", "")

	admin := env.as(t, "admin")
	for i := 0; i < 3; i++ {
		env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d1"})
	}
	env.createRepair(t, admin, &CreateRepairRequest{DepartmentID: "d2"})

	for _, id := range []string{"admin", "mon", "member"} {
		list, err := env.repairSvc.ListByDepartment(env.as(t, id), "d1", nil)
		require.NoError(t, err, id)
		assert.Equal(t, int64(3), list.Total, id)
		assert.Equal(t, 20, list.PageSize)
	}

	paged, err := env.repairSvc.ListByDepartment(admin, "d1", &DepartmentRepairsRequest{Limit: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), paged.Total)
	assert.Len(t, paged.Items, 1)

	capped, err := env.repairSvc.ListByDepartment(admin, "d1", &DepartmentRepairsRequest{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, capped.PageSize)

	none, err := env.repairSvc.ListByDepartment(admin, "d1", &DepartmentRepairsRequest{Status: "delivered"})
	require.NoError(t, err)
	assert.Zero(t, none.Total)

	_, err = env.repairSvc.ListByDepartment(env.as(t, "outsider"), "d1", nil)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.repairSvc.ListByDepartment(admin, "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = env.repairSvc.ListByDepartment(admin, "d1", &DepartmentRepairsRequest{Status: "bogus"})
	assert.ErrorIs(t, err, workflow.ErrInvalidStatus)
}

func TestRepairService_AddCustomerUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin", model.RoleAdmin, "")
	env.addUser(t, "t1", model.RoleTechnician, "")
	ctx := env.as(t, "admin")
	r := env.createRepair(t, ctx, &CreateRepairRequest{TechnicianID: "t1"})

	text, err := env.repairSvc.AddCustomerUpdate(ctx, r.ID, &CustomerUpdateRequest{Type: "text", Text: " Screen ordered ", FileURL: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "Screen ordered", text.Text)
	assert.Empty(t, text.FileURL)
	assert.True(t, text.IsPublic)
	assert.Equal(t, "admin", text.CreatedBy)

	private := false
	_, err = env.repairSvc.AddCustomerUpdate(ctx, r.ID, &CustomerUpdateRequest{Type: "image", FileURL: "https://cdn.example.com/a.jpg", IsPublic: &private})
	require.NoError(t, err)

	_, err = env.repairSvc.AddCustomerUpdate(ctx, r.ID, &CustomerUpdateRequest{Type: "fax", Text: "x"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	_, err = env.repairSvc.AddCustomerUpdate(ctx, r.ID, &CustomerUpdateRequest{Type: "video"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	_, err = env.repairSvc.AddCustomerUpdate(env.as(t, "t1"), r.ID, &CustomerUpdateRequest{Type: "text", Text: "hi"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.repairSvc.AddCustomerUpdate(ctx, "missing", &CustomerUpdateRequest{Type: "text", Text: "hi"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	reloaded, err := env.repairs.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.CustomerUpdates, 2)
	updates := 0
	for _, e := range reloaded.Events {
		if p, ok := e.Payload.(workflow.UpdatePayload); ok && len(p.Changes) == 1 && p.Changes[0].Field == "customerUpdates" {
			updates++
		}
	}
	assert.Equal(t, 2, updates)

	// 公开查询页只显示公开的动态
	public := NewPublicView(reloaded)
	require.Len(t, public.Updates, 1)
	assert.Equal(t, "Screen ordered", public.Updates[0].Text)
}
