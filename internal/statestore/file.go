package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultLockWait  = 5 * time.Second
	defaultLockStale = 30 * time.Second
	lockRetryDelay   = 10 * time.Millisecond
)

// FileStore keeps a snapshot in a JSON file. Writes go to a temporary file
// in the same directory followed by a rename, so readers never observe a
// partial document. Read-modify-write commits from different processes are
// serialised through an exclusive lock file next to the snapshot.
type FileStore struct {
	path      string
	lockWait  time.Duration
	lockStale time.Duration
	logger    *logging.Logger
	mu        sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for the snapshot at path.
func NewFileStore(path string, logger *logging.Logger) *FileStore {
	if path == "" {
		panic("statestore: path cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FileStore{
		path:      path,
		lockWait:  defaultLockWait,
		lockStale: defaultLockStale,
		logger:    logger,
	}
}

// WithLockTimeouts overrides how long to wait for the lock and when an
// abandoned lock file is considered stale.
func (s *FileStore) WithLockTimeouts(wait, stale time.Duration) *FileStore {
	if wait > 0 {
		s.lockWait = wait
	}
	if stale > 0 {
		s.lockStale = stale
	}
	return s
}

func (s *FileStore) Location() string { return s.path }

func (s *FileStore) Load(ctx context.Context, template *loan.State) (*loan.State, error) {
	_, span := tracer.Start(ctx, "statestore.file.load")
	defer span.End()
	span.SetAttributes(attribute.String("statestore.path", s.path))

	current, err := s.read()
	if err != nil {
		span.RecordError(err)
		return template, err
	}
	if current == nil {
		return template, nil
	}
	return current, nil
}

func (s *FileStore) Save(ctx context.Context, state *loan.State) error {
	ctx, span := tracer.Start(ctx, "statestore.file.save")
	defer span.End()

	if state == nil {
		return errors.New("statestore: state cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.lock(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer release()

	stamp(state)
	if err := s.write(state); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *FileStore) Update(ctx context.Context, template *loan.State, fn MutateFunc) (*loan.State, bool, error) {
	ctx, span := tracer.Start(ctx, "statestore.file.update")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.lock(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	defer release()

	current, err := s.read()
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if current == nil {
		current = startingPoint(template)
	}
	if current == nil {
		return nil, false, nil
	}

	changed, err := fn(current)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return current, false, nil
	}
	stamp(current)
	if err := s.write(current); err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	return current, true, nil
}

// read returns nil, nil when there is nothing usable on disk. Corrupt
// content is logged and treated the same as a missing file.
func (s *FileStore) read() (*loan.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	state, err := decode(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable state snapshot", "path", s.path, "error", err)
		return nil, nil
	}
	return state, nil
}

func (s *FileStore) write(state *loan.State) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("statestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("statestore: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("statestore: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("statestore: rename snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) lockPath() string { return s.path + ".lock" }

func (s *FileStore) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create dir: %w", err)
	}
	deadline := time.Now().Add(s.lockWait)
	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { _ = os.Remove(s.lockPath()) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("statestore: create lock: %w", err)
		}
		if info, statErr := os.Stat(s.lockPath()); statErr == nil && time.Since(info.ModTime()) > s.lockStale {
			if s.breakStaleLock(info) {
				s.logger.Warn("removed stale state lock", "path", s.lockPath(), "age", time.Since(info.ModTime()).String())
			}
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, s.path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

// breakStaleLock moves the lock aside under a unique name and deletes it
// only if the moved file is the one judged stale. When several waiters race
// to break the same lock exactly one rename wins. A fresh lock taken between
// the stat and the rename is put back.
func (s *FileStore) breakStaleLock(stale fs.FileInfo) bool {
	aside := s.lockPath() + ".stale-" + uuid.NewString()
	if err := os.Rename(s.lockPath(), aside); err != nil {
		return false
	}
	defer func() { _ = os.Remove(aside) }()

	moved, err := os.Stat(aside)
	if err == nil && os.SameFile(stale, moved) {
		return true
	}
	if err := os.Link(aside, s.lockPath()); err != nil {
		s.logger.Warn("could not restore state lock", "path", s.lockPath(), "error", err)
	}
	return false
}

// Watch nudges the returned channel whenever the snapshot file is written
// or replaced. Pollers use it to run a cycle early; it never replaces the
// regular interval. The channel is closed when ctx is done.
func (s *FileStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("statestore: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("statestore: watch %s: %w", dir, err)
	}

	base := filepath.Base(s.path)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("state watcher error", "path", s.path, "error", werr)
			}
		}
	}()
	return out, nil
}

// DirSource exposes every *.json snapshot in a directory as a FileStore.
type DirSource struct {
	Dir    string
	Logger *logging.Logger

	mu     sync.Mutex
	stores map[string]*FileStore
}

func (d *DirSource) Stores(context.Context) ([]Store, error) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("statestore: list %s: %w", d.Dir, err)
	}
	sort.Strings(matches)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stores == nil {
		d.stores = map[string]*FileStore{}
	}
	out := make([]Store, 0, len(matches))
	for _, path := range matches {
		st, ok := d.stores[path]
		if !ok {
			st = NewFileStore(path, d.Logger)
			d.stores[path] = st
		}
		out = append(out, st)
	}
	return out, nil
}
