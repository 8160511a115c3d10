package statestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversation_state.json")
	return NewFileStore(path, logging.New("error")), path
}

func TestFileStoreLoadMissingReturnsTemplate(t *testing.T) {
	store, _ := newFileStore(t)
	template := loan.NewState("tmpl")

	got, err := store.Load(context.Background(), template)
	require.NoError(t, err)
	assert.Same(t, template, got)
}

func TestFileStoreLoadCorruptReturnsTemplate(t *testing.T) {
	store, path := newFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"session_id": "x", "messages": [`), 0o644))
	template := loan.NewState("tmpl")

	got, err := store.Load(context.Background(), template)
	require.NoError(t, err)
	assert.Same(t, template, got)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store, path := newFileStore(t)
	state := loan.NewState("round-trip")
	state.CustomerDetails[loan.KeyCustomerID] = "TC001"
	state.AddMessage(loan.RoleUser, "hello")

	require.NoError(t, store.Save(context.Background(), state))
	assert.Equal(t, int64(1), state.Version)
	assert.False(t, state.LastUpdated.IsZero())

	got, err := store.Load(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TC001", got.CustomerDetails.String(loan.KeyCustomerID))
	assert.Len(t, got.Messages, 1)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_updated"`)

	leftovers, _ := filepath.Glob(path + ".*")
	assert.Empty(t, leftovers, "temp and lock files are cleaned up")
}

func TestFileStoreUpdateNoChangeDoesNotWrite(t *testing.T) {
	store, path := newFileStore(t)
	state := loan.NewState("noop")
	require.NoError(t, store.Save(context.Background(), state))
	before, err := os.Stat(path)
	require.NoError(t, err)

	_, changed, err := store.Update(context.Background(), nil, func(*loan.State) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestFileStoreUpdateWithoutSnapshotOrTemplate(t *testing.T) {
	store, _ := newFileStore(t)
	called := false
	got, changed, err := store.Update(context.Background(), nil, func(*loan.State) (bool, error) {
		called = true
		return true, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, changed)
	assert.False(t, called)
}

func TestFileStoreUpdatePropagatesMutationError(t *testing.T) {
	store, _ := newFileStore(t)
	boom := errors.New("boom")
	_, _, err := store.Update(context.Background(), loan.NewState("err"), func(*loan.State) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

// Separate FileStore values on one path behave like separate processes.
func TestFileStoreConcurrentUpdatesAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	require.NoError(t, NewFileStore(path, nil).Save(context.Background(), loan.NewState("shared")))

	const writers = 8
	const perWriter = 5
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := NewFileStore(path, logging.New("error"))
			for i := 0; i < perWriter; i++ {
				_, _, err := store.Update(context.Background(), nil, func(s *loan.State) (bool, error) {
					s.AddMessage(loan.RoleSystem, "tick")
					return true, nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := NewFileStore(path, nil).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got.Messages, writers*perWriter)
	assert.Equal(t, int64(writers*perWriter+1), got.Version)
}

func TestFileStoreLockTimeout(t *testing.T) {
	store, path := newFileStore(t)
	store.WithLockTimeouts(50*time.Millisecond, time.Hour)
	require.NoError(t, os.WriteFile(path+".lock", []byte("123"), 0o644))

	err := store.Save(context.Background(), loan.NewState("locked"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestFileStoreStaleLockIsBroken(t *testing.T) {
	store, path := newFileStore(t)
	store.WithLockTimeouts(time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(path+".lock", []byte("123"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path+".lock", old, old))

	assert.NoError(t, store.Save(context.Background(), loan.NewState("stale")))
	leftovers, _ := filepath.Glob(path + ".lock*")
	assert.Empty(t, leftovers)
}

func TestFileStoreStaleLockBrokenOnceUnderContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	require.NoError(t, NewFileStore(path, nil).Save(context.Background(), loan.NewState("shared")))
	require.NoError(t, os.WriteFile(path+".lock", []byte("123"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path+".lock", old, old))

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := NewFileStore(path, logging.New("error")).WithLockTimeouts(5*time.Second, 2*time.Second)
			_, _, err := store.Update(context.Background(), nil, func(s *loan.State) (bool, error) {
				s.AddMessage(loan.RoleSystem, "tick")
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := NewFileStore(path, nil).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got.Messages, writers)
	leftovers, _ := filepath.Glob(path + ".lock*")
	assert.Empty(t, leftovers)
}

func TestFileStoreBreakStaleLockRestoresFreshLock(t *testing.T) {
	store, path := newFileStore(t)
	lock := path + ".lock"
	require.NoError(t, os.WriteFile(lock, []byte("old"), 0o644))
	stale, err := os.Stat(lock)
	require.NoError(t, err)

	// Another waiter breaks the stale lock and takes a fresh one before
	// this one gets to it.
	require.NoError(t, os.WriteFile(path+".fresh", []byte("new"), 0o644))
	require.NoError(t, os.Rename(path+".fresh", lock))

	assert.False(t, store.breakStaleLock(stale))
	data, err := os.ReadFile(lock)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	leftovers, _ := filepath.Glob(lock + ".stale-*")
	assert.Empty(t, leftovers)

	fresh, err := os.Stat(lock)
	require.NoError(t, err)
	assert.True(t, store.breakStaleLock(fresh))
	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreWatchSignalsWrites(t *testing.T) {
	store, _ := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Watch(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), loan.NewState("watched")))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	cancel()
	for range events {
	}
}

func TestDirSourceListsSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"b", "a"} {
		require.NoError(t, NewFileStore(filepath.Join(dir, id+".json"), nil).Save(context.Background(), loan.NewState(id)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src := &DirSource{Dir: dir}
	stores, err := src.Stores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, filepath.Join(dir, "a.json"), stores[0].Location())

	again, err := src.Stores(context.Background())
	require.NoError(t, err)
	assert.Same(t, stores[0], again[0])
}
