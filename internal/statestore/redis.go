package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
)

const redisKeyPrefix = "loan:state:"

// RedisStore keeps one session's snapshot under a Redis key. Updates use
// WATCH/MULTI so concurrent read-modify-write cycles never interleave.
type RedisStore struct {
	client    *redis.Client
	sessionID string
	ttl       time.Duration
	retries   int
	logger    *logging.Logger
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, sessionID string, ttl time.Duration, logger *logging.Logger) *RedisStore {
	if client == nil {
		panic("statestore: redis client cannot be nil")
	}
	if sessionID == "" {
		panic("statestore: session id cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisStore{
		client:    client,
		sessionID: sessionID,
		ttl:       ttl,
		retries:   defaultUpdateRetries,
		logger:    logger,
	}
}

func (s *RedisStore) key() string { return RedisKey(s.sessionID) }

// RedisKey is the key holding a session's snapshot.
func RedisKey(sessionID string) string { return redisKeyPrefix + sessionID }

func (s *RedisStore) Location() string { return "redis://" + s.key() }

func (s *RedisStore) Load(ctx context.Context, template *loan.State) (*loan.State, error) {
	ctx, span := tracer.Start(ctx, "statestore.redis.load")
	defer span.End()
	span.SetAttributes(attribute.String("statestore.key", s.key()))

	current, err := s.get(ctx, s.client)
	if err != nil {
		span.RecordError(err)
		return template, err
	}
	if current == nil {
		return template, nil
	}
	return current, nil
}

func (s *RedisStore) Save(ctx context.Context, state *loan.State) error {
	ctx, span := tracer.Start(ctx, "statestore.redis.save")
	defer span.End()

	if state == nil {
		return errors.New("statestore: state cannot be nil")
	}
	stamp(state)
	data, err := encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: failed to persist state: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, template *loan.State, fn MutateFunc) (*loan.State, bool, error) {
	ctx, span := tracer.Start(ctx, "statestore.redis.update")
	defer span.End()

	var (
		result  *loan.State
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		result, changed = nil, false
		current, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil {
			current = startingPoint(template)
		}
		if current == nil {
			return nil
		}
		ok, err := fn(current)
		if err != nil {
			return err
		}
		result = current
		if !ok {
			return nil
		}
		stamp(current)
		data, err := encode(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key(), data, s.ttl)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key())
		if err == nil {
			return result, changed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			span.RecordError(err)
			return nil, false, fmt.Errorf("statestore: update %s: %w", s.key(), err)
		}
		s.logger.Debug("redis state update lost race, retrying", "key", s.key(), "attempt", attempt+1)
	}
	span.RecordError(ErrConflict)
	return nil, false, ErrConflict
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c redisGetter) (*loan.State, error) {
	data, err := c.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: failed to load state: %w", err)
	}
	state, err := decode(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable state snapshot", "key", s.key(), "error", err)
		return nil, nil
	}
	return state, nil
}

// RedisSource lists every session snapshot stored in Redis.
type RedisSource struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logging.Logger
}

func (r RedisSource) Stores(ctx context.Context) ([]Store, error) {
	var out []Store
	iter := r.Client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		sessionID := iter.Val()[len(redisKeyPrefix):]
		if sessionID == "" {
			continue
		}
		out = append(out, NewRedisStore(r.Client, sessionID, r.TTL, r.Logger))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("statestore: scan sessions: %w", err)
	}
	return out, nil
}
