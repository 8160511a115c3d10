// Package statestore persists conversation snapshots where the conversation
// driver and the background workers can all reach them.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"go.opentelemetry.io/otel"
)

var (
	// ErrConflict is returned when an optimistic update kept losing to
	// concurrent writers.
	ErrConflict = errors.New("statestore: concurrent update conflict")
	// ErrLocked is returned when the file lock could not be acquired in time.
	ErrLocked = errors.New("statestore: state is locked")
)

var tracer = otel.Tracer("loan.internal.statestore")

const defaultUpdateRetries = 8

// MutateFunc changes a loaded snapshot in place. Returning false means the
// snapshot is unchanged and nothing is written.
type MutateFunc func(s *loan.State) (bool, error)

// Store holds one conversation snapshot.
type Store interface {
	// Save writes a complete snapshot. It stamps LastUpdated and bumps
	// Version on s.
	Save(ctx context.Context, s *loan.State) error
	// Load returns the persisted snapshot. A missing or unreadable snapshot
	// yields template unchanged.
	Load(ctx context.Context, template *loan.State) (*loan.State, error)
	// Update applies fn to the current snapshot (or a copy of template when
	// nothing is stored) as one atomic read-modify-write. It returns the
	// resulting snapshot and whether it was written.
	Update(ctx context.Context, template *loan.State, fn MutateFunc) (*loan.State, bool, error)
	// Location names where the snapshot lives, for logs.
	Location() string
}

// Source enumerates the stores a background worker should poll.
type Source interface {
	Stores(ctx context.Context) ([]Store, error)
}

// Single is a Source over one fixed store.
type Single struct {
	Store Store
}

func (s Single) Stores(context.Context) ([]Store, error) {
	if s.Store == nil {
		return nil, nil
	}
	return []Store{s.Store}, nil
}

func encode(s *loan.State) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("statestore: encode state: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*loan.State, error) {
	var s loan.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("statestore: decode state: %w", err)
	}
	s.Normalize()
	return &s, nil
}

func stamp(s *loan.State) {
	s.Version++
	s.LastUpdated = time.Now().UTC()
}

func startingPoint(template *loan.State) *loan.State {
	if template == nil {
		return nil
	}
	return template.Clone()
}
