package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedNotifications(t *testing.T, repo repository.NotificationRepository, userID string, n int) {
	t.Helper()
	items := make([]*model.NotificationModel, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &model.NotificationModel{
			ID:        uuid.NewString(),
			UserID:    userID,
			Message:   "Repair updated",
			Type:      model.NotificationRepair,
			CreatedAt: testNow,
		})
	}
	require.NoError(t, repo.CreateBatch(context.Background(), items))
}

func TestNotificationService_ListAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "t1", model.RoleTechnician, "")
	env.addUser(t, "t2", model.RoleTechnician, "")
	notifications := repository.NewNotificationRepository(env.db)
	svc := NewNotificationService(notifications, repository.NewPushSubscriptionRepository(env.db))

	seedNotifications(t, notifications, "t1", 3)
	seedNotifications(t, notifications, "t2", 1)

	ctx := env.as(t, "t1")
	page, err := svc.List(ctx, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, int64(3), page.Unread)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultNotificationPageSize, page.PageSize)

	require.NoError(t, svc.MarkRead(ctx, page.Items[0].ID))
	page, err = svc.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Unread)

	// 不能标记别人的通知
	other, err := svc.List(env.as(t, "t2"), 1, 10)
	require.NoError(t, err)
	assert.Error(t, svc.MarkRead(ctx, other.Items[0].ID))

	unread, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	n, err := svc.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread)
	unread, err = svc.UnreadCount(env.as(t, "t2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	_, err = svc.UnreadCount(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoPrincipal)

	_, err = svc.List(context.Background(), 1, 10)
	assert.ErrorIs(t, err, auth.ErrNoPrincipal)
}

func TestNotificationService_Subscriptions(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "t1", model.RoleTechnician, "")
	subs := repository.NewPushSubscriptionRepository(env.db)
	svc := NewNotificationService(repository.NewNotificationRepository(env.db), subs)
	ctx := env.as(t, "t1")

	err := svc.Subscribe(ctx, &SubscribeRequest{Endpoint: "not a url"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	req := &SubscribeRequest{Endpoint: "https://push.example.com/sub/1"}
	req.Keys.P256dh = "key"
	req.Keys.Auth = "auth"
	require.NoError(t, svc.Subscribe(ctx, req))
	require.NoError(t, svc.Subscribe(ctx, req))

	found, err := subs.FindByUsers(context.Background(), []string{"t1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "key", found[0].P256dh)

	require.NoError(t, svc.Unsubscribe(ctx, &UnsubscribeRequest{Endpoint: req.Endpoint}))
	found, err = subs.FindByUsers(context.Background(), []string{"t1"})
	require.NoError(t, err)
	assert.Empty(t, found)
}
