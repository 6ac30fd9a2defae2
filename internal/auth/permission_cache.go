package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PermissionCache 关系检查结果缓存
type PermissionCache struct {
	cache *sync.Map
	ttl   time.Duration
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// NewPermissionCache 创建权限缓存
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		cache: &sync.Map{},
		ttl:   ttl,
	}
}

// Get 获取缓存
func (c *PermissionCache) Get(key string) (bool, bool) {
	val, found := c.cache.Load(key)
	if !found {
		return false, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.cache.Delete(key)
		return false, false
	}

	return entry.value, true
}

// Set 设置缓存
func (c *PermissionCache) Set(key string, value bool) {
	c.cache.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Invalidate 删除单个缓存项
func (c *PermissionCache) Invalidate(key string) {
	c.cache.Delete(key)
}

// Clear 清空缓存
func (c *PermissionCache) Clear() {
	c.cache.Range(func(key, value interface{}) bool {
		c.cache.Delete(key)
		return true
	})
}

func relationKey(userID, relation, objectType, objectID string) string {
	return fmt.Sprintf("user:%s:%s:%s:%s", userID, relation, objectType, objectID)
}

// CachedRelationClient 带缓存的关系存储,写入时清除对应缓存
type CachedRelationClient struct {
	client RelationClient
	cache  *PermissionCache
}

// NewCachedRelationClient 创建带缓存的关系存储
func NewCachedRelationClient(client RelationClient, cache *PermissionCache) *CachedRelationClient {
	return &CachedRelationClient{
		client: client,
		cache:  cache,
	}
}

// CheckPermission 检查关系(带缓存)
func (c *CachedRelationClient) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	key := relationKey(userID, relation, objectType, objectID)
	if value, found := c.cache.Get(key); found {
		return value, nil
	}

	allowed, err := c.client.CheckPermission(ctx, userID, relation, objectType, objectID)
	if err != nil {
		return false, err
	}

	c.cache.Set(key, allowed)
	return allowed, nil
}

// SetRelation 写入关系并清除缓存
func (c *CachedRelationClient) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	if err := c.client.SetRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Invalidate(relationKey(userID, relation, objectType, objectID))
	return nil
}

// DeleteRelation 删除关系并清除缓存
func (c *CachedRelationClient) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	if err := c.client.DeleteRelation(ctx, userID, relation, objectType, objectID); err != nil {
		return err
	}
	c.cache.Invalidate(relationKey(userID, relation, objectType, objectID))
	return nil
}
