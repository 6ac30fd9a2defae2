package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelations struct {
	tuples map[string]bool
	checks int
	err    error
}

func newFakeRelations() *fakeRelations {
	return &fakeRelations{tuples: map[string]bool{}}
}

func tupleKey(userID, relation, objectType, objectID string) string {
	return userID + "|" + relation + "|" + objectType + ":" + objectID
}

func (f *fakeRelations) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	f.checks++
	if f.err != nil {
		return false, f.err
	}
	return f.tuples[tupleKey(userID, relation, objectType, objectID)], nil
}

func (f *fakeRelations) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	f.tuples[tupleKey(userID, relation, objectType, objectID)] = true
	return nil
}

func (f *fakeRelations) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	delete(f.tuples, tupleKey(userID, relation, objectType, objectID))
	return nil
}

func TestPermissionCache_Expiry(t *testing.T) {
	cache := auth.NewPermissionCache(20 * time.Millisecond)
	cache.Set("k", true)

	v, ok := cache.Get("k")
	assert.True(t, ok)
	assert.True(t, v)

	time.Sleep(40 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestCachedRelationClient_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRelations()
	client := auth.NewCachedRelationClient(fake, auth.NewPermissionCache(time.Minute))

	allowed, err := client.CheckPermission(ctx, "u1", "monitor", "department", "d1")
	require.NoError(t, err)
	assert.False(t, allowed)
	_, _ = client.CheckPermission(ctx, "u1", "monitor", "department", "d1")
	assert.Equal(t, 1, fake.checks)

	require.NoError(t, client.SetRelation(ctx, "u1", "monitor", "department", "d1"))
	allowed, err = client.CheckPermission(ctx, "u1", "monitor", "department", "d1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, fake.checks)
}

func TestCachedRelationClient_ErrorsAreNotCached(t *testing.T) {
	fake := newFakeRelations()
	fake.err = errors.New("unavailable")
	client := auth.NewCachedRelationClient(fake, auth.NewPermissionCache(time.Minute))

	_, err := client.CheckPermission(context.Background(), "u1", "monitor", "department", "d1")
	assert.Error(t, err)
	_, _ = client.CheckPermission(context.Background(), "u1", "monitor", "department", "d1")
	assert.Equal(t, 2, fake.checks)
}

func TestMonitorDirectory_ReplaceMonitor(t *testing.T) {
	ctx := context.Background()
	dir := auth.NewMonitorDirectory(newFakeRelations())

	require.NoError(t, dir.ReplaceMonitor(ctx, "d1", "", "alice"))
	ok, err := dir.IsMonitor(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dir.ReplaceMonitor(ctx, "d1", "alice", "bob"))
	ok, _ = dir.IsMonitor(ctx, "alice", "d1")
	assert.False(t, ok)
	ok, _ = dir.IsMonitor(ctx, "bob", "d1")
	assert.True(t, ok)

	ok, err = dir.IsMonitor(ctx, "", "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetPermissionModel(t *testing.T) {
	assert.Contains(t, auth.GetPermissionModel(), "type department")
	assert.Contains(t, auth.GetPermissionModel(), "define monitor: [user]")
}
