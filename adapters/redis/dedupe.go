// Package redis stores dedupe claims in Redis so restarts and replicas agree
// on which voice notes were already accepted.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

const keyPrefix = "voicenote-relay:seen:"

// Config holds the Redis connection settings
type Config struct {
	Addr     string        // Required: host:port
	Password string        // Optional
	DB       int           // Optional
	TTL      time.Duration // Required: how long a claim is remembered
}

// DedupeStore implements DedupeStore with SET NX
type DedupeStore struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ repositories.DedupeStore = (*DedupeStore)(nil)

// NewDedupeStore connects to Redis and verifies the connection
func NewDedupeStore(ctx context.Context, config Config, logger *zap.Logger) (*DedupeStore, error) {
	if config.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if config.TTL <= 0 {
		return nil, errors.New("dedupe ttl must be positive")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", config.Addr))

	return &DedupeStore{client: rdb, ttl: config.TTL, logger: logger}, nil
}

// Claim sets the key only if absent. The first caller wins.
func (s *DedupeStore) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the client
func (s *DedupeStore) Close() error {
	return s.client.Close()
}
