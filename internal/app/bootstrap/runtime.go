// Package bootstrap builds the shared runtime pieces the binaries wire
// together from config.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/sessions"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStores picks the shared state backend named by
// cfg.StateBackend.
func BuildSessionStores(cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client, logger *logging.Logger) (sessions.StoreFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.StateBackend {
	case "", "file":
		logger.Info("using file state store", "dir", cfg.StateDir)
		return sessions.NewFileStores(cfg.StateDir, logger), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis state backend requires REDIS_ADDR")
		}
		logger.Info("using redis state store", "addr", cfg.RedisAddr)
		return sessions.RedisStores{Client: redisClient, TTL: cfg.StateTTL, Logger: logger}, nil
	case "dynamo", "dynamodb":
		if strings.TrimSpace(cfg.DynamoStateTable) == "" {
			return nil, fmt.Errorf("bootstrap: dynamodb state backend requires DYNAMO_STATE_TABLE")
		}
		logger.Info("using dynamodb state store", "table", cfg.DynamoStateTable)
		return sessions.DynamoStores{
			Client:    dynamodb.NewFromConfig(awsCfg),
			TableName: cfg.DynamoStateTable,
			TTL:       cfg.StateTTL,
			Logger:    logger,
		}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown state backend %q", cfg.StateBackend)
	}
}

// BuildStateSource returns what a background worker polls: the single
// snapshot at stateFile when one is given, otherwise every session in
// stores.
func BuildStateSource(stores sessions.StoreFactory, stateFile string, logger *logging.Logger) (statestore.Source, *statestore.FileStore) {
	if path := strings.TrimSpace(stateFile); path != "" {
		fs := statestore.NewFileStore(path, logger)
		return statestore.Single{Store: fs}, fs
	}
	return stores.Source(), nil
}
