package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// RedisClient caches the latest live snapshots per symbol
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newClient(client, cfg, logger), nil
}

func newClient(client *redis.Client, cfg *config.RedisConfig, logger *logrus.Logger) *RedisClient {
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
		ttl:    ttl,
	}
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// DecisionKey is the key of the latest decision of symbol
func DecisionKey(symbol string) string { return fmt.Sprintf("imo:decision:%s", symbol) }

// StatusKey is the key of the latest feed status of symbol
func StatusKey(symbol string) string { return fmt.Sprintf("imo:status:%s", symbol) }

// SetDecision caches the latest decision event
func (rc *RedisClient) SetDecision(ctx context.Context, ev models.DecisionEvent) error {
	return rc.SetJSON(ctx, DecisionKey(ev.Symbol), ev, rc.ttl)
}

// GetDecision returns the cached decision event, or nil when absent
func (rc *RedisClient) GetDecision(ctx context.Context, symbol string) (*models.DecisionEvent, error) {
	var ev models.DecisionEvent
	ok, err := rc.GetJSON(ctx, DecisionKey(symbol), &ev)
	if err != nil || !ok {
		return nil, err
	}
	return &ev, nil
}

// SetStatus caches the latest status
func (rc *RedisClient) SetStatus(ctx context.Context, st models.Status) error {
	return rc.SetJSON(ctx, StatusKey(st.Symbol), st, rc.ttl)
}

// GetStatus returns the cached status, or nil when absent
func (rc *RedisClient) GetStatus(ctx context.Context, symbol string) (*models.Status, error) {
	var st models.Status
	ok, err := rc.GetJSON(ctx, StatusKey(symbol), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SetJSON sets a JSON value with expiration
func (rc *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return rc.client.Set(ctx, key, data, expiration).Err()
}

// GetJSON gets a JSON value; the bool is false when the key does not exist
func (rc *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
