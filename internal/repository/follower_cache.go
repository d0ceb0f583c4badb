package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

const followerSnapshotPrefix = "follow:followers:"

// MemoryFollowerCache keeps the last observed follower list per document in
// process memory.
type MemoryFollowerCache struct {
	mu        sync.RWMutex
	followers map[string][]string
}

func NewMemoryFollowerCache() *MemoryFollowerCache {
	return &MemoryFollowerCache{followers: make(map[string][]string)}
}

func (c *MemoryFollowerCache) Get(_ context.Context, documentID string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	followers, ok := c.followers[documentID]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), followers...), true, nil
}

func (c *MemoryFollowerCache) Put(_ context.Context, documentID string, followers []string) error {
	snapshot := make([]string, len(followers))
	copy(snapshot, followers)

	c.mu.Lock()
	c.followers[documentID] = snapshot
	c.mu.Unlock()
	return nil
}

func (c *MemoryFollowerCache) Delete(_ context.Context, documentID string) error {
	c.mu.Lock()
	delete(c.followers, documentID)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached documents.
func (c *MemoryFollowerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.followers)
}

// RedisFollowerCache stores follower snapshots in Redis so a restarted
// listener still has a baseline to diff against.
type RedisFollowerCache struct {
	client *redis.Client
}

func NewRedisFollowerCache(client *redis.Client) *RedisFollowerCache {
	return &RedisFollowerCache{client: client}
}

func (c *RedisFollowerCache) Get(ctx context.Context, documentID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, followerSnapshotPrefix+documentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var followers []string
	if err := json.Unmarshal(raw, &followers); err != nil {
		return nil, false, fmt.Errorf("decode follower snapshot %s: %w", documentID, err)
	}
	return followers, true, nil
}

func (c *RedisFollowerCache) Put(ctx context.Context, documentID string, followers []string) error {
	if followers == nil {
		followers = []string{}
	}
	raw, err := json.Marshal(followers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, followerSnapshotPrefix+documentID, raw, 0).Err()
}

func (c *RedisFollowerCache) Delete(ctx context.Context, documentID string) error {
	return c.client.Del(ctx, followerSnapshotPrefix+documentID).Err()
}
