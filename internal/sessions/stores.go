package sessions

import (
	"errors"
	"path/filepath"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// ErrInvalidID is returned for session ids that cannot name a store.
var ErrInvalidID = errors.New("sessions: invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidID reports whether id is safe to use as a file name or key suffix.
func ValidID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// StoreFactory binds a shared state store to a session.
type StoreFactory interface {
	StoreFor(sessionID string) statestore.Store
	// Source lists every session for the background workers.
	Source() statestore.Source
}

// FileStores keeps one JSON snapshot per session under Dir.
type FileStores struct {
	Dir    string
	Logger *logging.Logger

	source *statestore.DirSource
}

func NewFileStores(dir string, logger *logging.Logger) *FileStores {
	return &FileStores{Dir: dir, Logger: logger, source: &statestore.DirSource{Dir: dir, Logger: logger}}
}

func (f *FileStores) StoreFor(sessionID string) statestore.Store {
	return statestore.NewFileStore(filepath.Join(f.Dir, sessionID+".json"), f.Logger)
}

func (f *FileStores) Source() statestore.Source {
	return f.source
}

type RedisStores struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logging.Logger
}

func (r RedisStores) StoreFor(sessionID string) statestore.Store {
	return statestore.NewRedisStore(r.Client, sessionID, r.TTL, r.Logger)
}

func (r RedisStores) Source() statestore.Source {
	return statestore.RedisSource{Client: r.Client, TTL: r.TTL, Logger: r.Logger}
}

type DynamoStores struct {
	Client    statestore.DynamoAPI
	TableName string
	TTL       time.Duration
	Logger    *logging.Logger
}

func (d DynamoStores) StoreFor(sessionID string) statestore.Store {
	return statestore.NewDynamoStore(d.Client, d.TableName, sessionID, d.TTL, d.Logger)
}

func (d DynamoStores) Source() statestore.Source {
	return statestore.DynamoSource{Client: d.Client, TableName: d.TableName, TTL: d.TTL, Logger: d.Logger}
}
