package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/agents"
	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

func testRules(t *testing.T) *agents.Set {
	t.Helper()
	dir, err := agents.LoadDirectory()
	require.NoError(t, err)
	return agents.NewSet(dir, agents.DefaultPolicy(), nil)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("3f2b6c1e-2f0a-4c7b-9d55-0b8a3c6a1f20"))
	assert.True(t, ValidID("cli_session"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("../etc/passwd"))
	assert.False(t, ValidID("a/b"))
}

func TestRegistryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewFileStores(t.TempDir(), nil), testRules(t), time.Hour, logging.New("error"))

	d, res, err := reg.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, loan.StageGreeting, res.Stage)
	assert.NotEmpty(t, res.Response)

	same, err := reg.Get(ctx, d.SessionID())
	require.NoError(t, err)
	assert.Same(t, d, same)

	owns, err := reg.Owns(ctx, "user-1", d.SessionID())
	require.NoError(t, err)
	assert.True(t, owns)
	owns, err = reg.Owns(ctx, "user-2", d.SessionID())
	require.NoError(t, err)
	assert.False(t, owns)

	ids, err := reg.Sessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{d.SessionID()}, ids)
}

func TestRegistryGetUnknownAndInvalid(t *testing.T) {
	reg := NewRegistry(NewFileStores(t.TempDir(), nil), testRules(t), time.Hour, nil)

	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Get(context.Background(), "../../escape")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRegistryResumesAfterForget(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewFileStores(t.TempDir(), nil), testRules(t), time.Hour, nil)

	d, err := reg.open(ctx, "resume-me")
	require.NoError(t, err)
	_, err = d.ProcessMessage(ctx, "my customer id is TC001")
	require.NoError(t, err)

	reg.Forget("resume-me")
	assert.Zero(t, reg.Len())

	again, err := reg.Get(ctx, "resume-me")
	require.NoError(t, err)
	assert.NotSame(t, d, again)
	snap, err := again.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TC001", snap.CustomerDetails.String(loan.KeyCustomerID))
}

func TestRegistryOpenIsSingleDriverPerSession(t *testing.T) {
	reg := NewRegistry(NewFileStores(t.TempDir(), nil), testRules(t), time.Hour, nil)

	var wg sync.WaitGroup
	drivers := make([]*conversation.Driver, 8)
	for i := range drivers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := reg.open(context.Background(), "shared")
			assert.NoError(t, err)
			drivers[i] = d
		}(i)
	}
	wg.Wait()
	for _, d := range drivers[1:] {
		assert.Same(t, drivers[0], d)
	}
}

func TestRegistryWithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stores := RedisStores{Client: client, TTL: time.Hour}
	reg := NewRegistry(stores, testRules(t), time.Hour, nil).WithIndex(NewRedisIndex(client, time.Hour))

	d, _, err := reg.Create(ctx, "user-9")
	require.NoError(t, err)
	assert.True(t, mr.Exists(statestore.RedisKey(d.SessionID())))
	assert.True(t, mr.Exists(redisIndexPrefix+"user-9"))

	found, err := stores.Source().Stores(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "redis://"+statestore.RedisKey(d.SessionID()), found[0].Location())

	owns, err := reg.Owns(ctx, "user-9", d.SessionID())
	require.NoError(t, err)
	assert.True(t, owns)
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Add(ctx, "u", "b"))
	require.NoError(t, idx.Add(ctx, "u", "a"))
	require.NoError(t, idx.Add(ctx, "u", "a"))

	ids, err := idx.List(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = idx.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
