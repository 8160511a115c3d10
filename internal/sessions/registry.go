// Package sessions maps session ids to conversation drivers.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// ErrNotFound is returned for a session that has never been started.
var ErrNotFound = errors.New("sessions: session not found")

const defaultTTL = 24 * time.Hour

// Registry hands out one Driver per session. Drivers are cached in process
// and rebuilt from the shared store after expiry or a restart.
type Registry struct {
	stores  StoreFactory
	rules   conversation.Rules
	opts    []conversation.DriverOption
	drivers *cache.Cache
	index   Index
	logger  *logging.Logger

	// creating serialises driver construction so two requests for the same
	// session never build two drivers.
	creating sync.Mutex
}

func NewRegistry(stores StoreFactory, rules conversation.Rules, ttl time.Duration, logger *logging.Logger, opts ...conversation.DriverOption) *Registry {
	if stores == nil {
		panic("sessions: store factory cannot be nil")
	}
	if rules == nil {
		panic("sessions: rules cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Registry{
		stores:  stores,
		rules:   rules,
		opts:    opts,
		drivers: cache.New(ttl, ttl/2),
		index:   NewMemoryIndex(),
		logger:  logger,
	}
}

// WithIndex replaces the in-memory owner index.
func (r *Registry) WithIndex(idx Index) *Registry {
	if idx != nil {
		r.index = idx
	}
	return r
}

// Create starts a new session, optionally owned by a user, and greets the
// customer.
func (r *Registry) Create(ctx context.Context, owner string) (*conversation.Driver, conversation.Result, error) {
	id := uuid.NewString()
	d, err := r.open(ctx, id)
	if err != nil {
		return nil, conversation.Result{}, err
	}
	if owner != "" {
		if err := r.index.Add(ctx, owner, id); err != nil {
			return nil, conversation.Result{}, fmt.Errorf("sessions: index session: %w", err)
		}
	}
	res, err := d.Start(ctx)
	if err != nil {
		// The greeting failed but the session exists; the apology is the reply.
		r.logger.Warn("session greeting failed", "session_id", id, "error", err)
	}
	r.logger.Info("session created", "session_id", id, "owner", owner)
	return d, res, nil
}

// Get returns the driver for an existing session.
func (r *Registry) Get(ctx context.Context, sessionID string) (*conversation.Driver, error) {
	if !ValidID(sessionID) {
		return nil, ErrInvalidID
	}
	if d, ok := r.cached(sessionID); ok {
		return d, nil
	}
	existing, err := r.stores.StoreFor(sessionID).Load(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sessions: load %s: %w", sessionID, err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	return r.open(ctx, sessionID)
}

// open returns the cached driver for sessionID or builds one from the
// store, starting a new conversation when the store holds none.
func (r *Registry) open(ctx context.Context, sessionID string) (*conversation.Driver, error) {
	if d, ok := r.cached(sessionID); ok {
		return d, nil
	}
	r.creating.Lock()
	defer r.creating.Unlock()
	if d, ok := r.cached(sessionID); ok {
		return d, nil
	}

	d, err := conversation.NewDriver(ctx, sessionID, r.stores.StoreFor(sessionID), r.rules, r.opts...)
	if err != nil {
		return nil, err
	}
	r.drivers.Set(sessionID, d, cache.DefaultExpiration)
	return d, nil
}

func (r *Registry) cached(sessionID string) (*conversation.Driver, bool) {
	if x, found := r.drivers.Get(sessionID); found {
		return x.(*conversation.Driver), true
	}
	return nil, false
}

// Owns reports whether owner started sessionID.
func (r *Registry) Owns(ctx context.Context, owner, sessionID string) (bool, error) {
	return r.index.Contains(ctx, owner, sessionID)
}

// Sessions lists the sessions an owner started.
func (r *Registry) Sessions(ctx context.Context, owner string) ([]string, error) {
	return r.index.List(ctx, owner)
}

// Forget drops the cached driver; the stored snapshot is kept.
func (r *Registry) Forget(sessionID string) {
	r.drivers.Delete(sessionID)
}

// Len is the number of cached drivers.
func (r *Registry) Len() int {
	return r.drivers.ItemCount()
}
