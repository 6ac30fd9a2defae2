package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestRepair(number int64, at time.Time) *workflow.Repair {
	r := workflow.NewRepair(fmt.Sprintf("repair-%d", number), number, at)
	r.CustomerName = "Customer"
	r.DeviceType = "Phone"
	return r
}

func newOutbox(id, repairID string) *model.OutboxModel {
	now := time.Now()
	return &model.OutboxModel{
		ID:            id,
		RepairID:      repairID,
		Kind:          "repair.updated",
		Payload:       datatypes.JSON(`{"message":"hi"}`),
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestRepairRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepairRepository(db)
	ctx := context.Background()

	r := newTestRepair(1, time.Now())
	r.Flows = append(r.Flows, workflow.FlowStage{ID: "s1", DepartmentID: "d1", Status: workflow.StageWaiting})
	r.ActiveStage = 0
	r.CurrentDepartmentID = "d1"
	r.Tracking = workflow.PublicTracking{Token: "tok-1", Enabled: true, ShowEta: true}

	require.NoError(t, repo.Create(ctx, r, newOutbox("o1", r.ID)))
	assert.Equal(t, int64(1), r.Version)

	found, err := repo.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.RepairNumber)
	assert.Equal(t, "Customer", found.CustomerName)
	require.Len(t, found.Flows, 1)
	assert.Equal(t, 0, found.ActiveStage)
	assert.Equal(t, "tok-1", found.Tracking.Token)
	assert.True(t, found.Tracking.ShowEta)
	assert.False(t, found.Tracking.ShowPrice)

	byToken, err := repo.FindByTrackingToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byToken.ID)

	var outbox int64
	require.NoError(t, db.Model(&model.OutboxModel{}).Count(&outbox).Error)
	assert.Equal(t, int64(1), outbox)
}

func TestRepairRepository_FindMissing(t *testing.T) {
	repo := repository.NewRepairRepository(setupTestDB(t))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.FindByTrackingToken(context.Background(), "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRepairRepository_UpdateVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepairRepository(db)
	ctx := context.Background()

	r := newTestRepair(1, time.Now())
	require.NoError(t, repo.Create(ctx, r))

	first, err := repo.FindByID(ctx, r.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, r.ID)
	require.NoError(t, err)

	first.Status = workflow.StatusInProgress
	require.NoError(t, repo.Update(ctx, first, newOutbox("o1", r.ID)))
	assert.Equal(t, int64(2), first.Version)

	second.Status = workflow.StatusRejected
	err = repo.Update(ctx, second, newOutbox("o2", r.ID))
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	// 冲突时 outbox 随事务回滚
	var ids []string
	require.NoError(t, db.Model(&model.OutboxModel{}).Pluck("id", &ids).Error)
	assert.Equal(t, []string{"o1"}, ids)

	stored, err := repo.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestRepairRepository_UpdateMissing(t *testing.T) {
	repo := repository.NewRepairRepository(setupTestDB(t))
	r := newTestRepair(9, time.Now())
	r.Version = 1

	err := repo.Update(context.Background(), r)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRepairRepository_InvalidOutboxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepairRepository(db)
	ctx := context.Background()

	r := newTestRepair(1, time.Now())
	require.NoError(t, repo.Create(ctx, r))

	r.CustomerName = "Changed"
	bad := newOutbox("", r.ID)
	require.Error(t, repo.Update(ctx, r, bad))
	assert.Equal(t, int64(1), r.Version)

	stored, err := repo.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer", stored.CustomerName)
}

func TestRepairRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepairRepository(db)
	ctx := context.Background()

	r := newTestRepair(1, time.Now())
	require.NoError(t, repo.Create(ctx, r))
	require.NoError(t, repo.Delete(ctx, r, newOutbox("o1", r.ID)))

	_, err := repo.FindByID(ctx, r.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, r), repository.ErrNotFound)
}

func TestRepairRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepairRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := newTestRepair(1, base)
	a.CustomerName = "Ahmed Ali"
	a.Phone = "0100"
	a.TechnicianID = "t1"
	a.CurrentDepartmentID = "d1"
	b := newTestRepair(2, base.Add(24*time.Hour))
	b.CustomerName = "Sara"
	b.Issue = "Broken SCREEN 50%"
	b.Status = workflow.StatusDelivered
	delivered := base.Add(10 * 24 * time.Hour)
	b.DeliveryDate = &delivered
	c := newTestRepair(3, base.Add(48*time.Hour))
	c.CustomerName = "Omar"
	c.TechnicianID = "t2"
	for _, r := range []*workflow.Repair{a, b, c} {
		require.NoError(t, repo.Create(ctx, r))
	}

	all, total, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].RepairNumber)

	byQuery, _, err := repo.List(ctx, &repository.RepairFilter{Query: "screen"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "Sara", byQuery[0].CustomerName)

	// LIKE 通配符按字面匹配
	literal, _, err := repo.List(ctx, &repository.RepairFilter{Query: "50%"})
	require.NoError(t, err)
	assert.Len(t, literal, 1)

	byTech, _, err := repo.List(ctx, &repository.RepairFilter{TechnicianID: "t1"})
	require.NoError(t, err)
	require.Len(t, byTech, 1)
	assert.Equal(t, a.ID, byTech[0].ID)

	byDept, _, err := repo.List(ctx, &repository.RepairFilter{DepartmentID: "d1"})
	require.NoError(t, err)
	assert.Len(t, byDept, 1)

	byStatus, _, err := repo.List(ctx, &repository.RepairFilter{Status: string(workflow.StatusDelivered)})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	// 交付日期落在区间内也算
	from := base.Add(9 * 24 * time.Hour)
	to := base.Add(11 * 24 * time.Hour)
	byRange, _, err := repo.List(ctx, &repository.RepairFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	assert.Equal(t, b.ID, byRange[0].ID)

	paged, total, err := repo.List(ctx, &repository.RepairFilter{SortBy: "repairId", SortOrder: "asc", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(3), paged[0].RepairNumber)

	_, _, err = repo.List(ctx, &repository.RepairFilter{SortBy: "password"})
	assert.ErrorIs(t, err, utils.ErrInvalidSortField)
	_, _, err = repo.List(ctx, &repository.RepairFilter{SortBy: "id; DROP TABLE repairs"})
	assert.ErrorIs(t, err, utils.ErrInvalidSortField)
	_, _, err = repo.List(ctx, &repository.RepairFilter{SortOrder: "sideways"})
	assert.ErrorIs(t, err, utils.ErrInvalidSortOrder)
}

func TestRepairRepository_Tracking(t *testing.T) {
	repo := repository.NewRepairRepository(setupTestDB(t))
	ctx := context.Background()

	r := newTestRepair(1, time.Now())
	require.NoError(t, repo.Create(ctx, r))

	now := time.Now()
	require.NoError(t, repo.UpdateTracking(ctx, r.ID, workflow.PublicTracking{
		Token: "abc", Enabled: true, ShowPrice: true, CreatedAt: &now,
	}))
	assert.ErrorIs(t, repo.UpdateTracking(ctx, "missing", workflow.PublicTracking{}), repository.ErrNotFound)

	require.NoError(t, repo.RecordTrackingView(ctx, "abc", now))
	require.NoError(t, repo.RecordTrackingView(ctx, "abc", now))
	assert.ErrorIs(t, repo.RecordTrackingView(ctx, "nope", now), repository.ErrNotFound)

	found, err := repo.FindByTrackingToken(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.Tracking.Views)
	assert.True(t, found.Tracking.ShowPrice)
	assert.False(t, found.Tracking.ShowEta)
	require.NotNil(t, found.Tracking.LastViewedAt)

	// 关闭后不再计数
	found.Tracking.Enabled = false
	require.NoError(t, repo.UpdateTracking(ctx, r.ID, found.Tracking))
	assert.ErrorIs(t, repo.RecordTrackingView(ctx, "abc", now), repository.ErrNotFound)
}

func TestRepairRepository_CountByStatus(t *testing.T) {
	repo := repository.NewRepairRepository(setupTestDB(t))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		r := newTestRepair(i, time.Now())
		if i == 3 {
			r.Status = workflow.StatusCompleted
		}
		require.NoError(t, repo.Create(ctx, r))
	}

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["pending"])
	assert.Equal(t, int64(1), counts["completed"])
}

func TestSequenceRepository_Next(t *testing.T) {
	repo := repository.NewSequenceRepository(setupTestDB(t))
	ctx := context.Background()

	current, err := repo.Current(ctx, repository.RepairNumberSequence)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Next(ctx, repository.RepairNumberSequence)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := repo.Next(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	_, err = repo.Next(ctx, "")
	assert.Error(t, err)
}
