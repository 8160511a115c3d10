package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index records which sessions each user started.
type Index interface {
	Add(ctx context.Context, owner, sessionID string) error
	List(ctx context.Context, owner string) ([]string, error)
	Contains(ctx context.Context, owner, sessionID string) (bool, error)
}

type MemoryIndex struct {
	mu     sync.RWMutex
	owners map[string]map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{owners: map[string]map[string]struct{}{}}
}

func (m *MemoryIndex) Add(_ context.Context, owner, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.owners[owner]
	if !ok {
		set = map[string]struct{}{}
		m.owners[owner] = set
	}
	set[sessionID] = struct{}{}
	return nil
}

func (m *MemoryIndex) List(_ context.Context, owner string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.owners[owner]))
	for id := range m.owners[owner] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryIndex) Contains(_ context.Context, owner, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owners[owner][sessionID]
	return ok, nil
}

const redisIndexPrefix = "loan:user_sessions:"

// RedisIndex keeps the owner index in Redis sets so every API replica sees
// the same ownership.
type RedisIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIndex(client *redis.Client, ttl time.Duration) *RedisIndex {
	if client == nil {
		panic("sessions: redis client cannot be nil")
	}
	return &RedisIndex{client: client, ttl: ttl}
}

func (r *RedisIndex) key(owner string) string {
	return redisIndexPrefix + owner
}

func (r *RedisIndex) Add(ctx context.Context, owner, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(owner), sessionID)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(owner), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisIndex) List(ctx context.Context, owner string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.key(owner)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisIndex) Contains(ctx context.Context, owner, sessionID string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(owner), sessionID).Result()
}
