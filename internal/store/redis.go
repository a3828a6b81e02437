package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
)

const (
	redisKeyRecentOutcomes = "bundles:recent"
	pubSubChannelOutcomes  = "bundles:live"
	maxRecentOutcomes      = 100
)

// RedisCache keeps a bounded recent-outcomes list and fans outcomes out
// over Pub/Sub. All writes are best-effort from the engine's point of
// view; losing one never fails a submission.
type RedisCache struct {
	client *redis.Client
}

type RedisConfig struct {
	Addr string
	DB   int
}

func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// AddRecentOutcome pushes the outcome onto the recent list, trimming it
// to the last maxRecentOutcomes entries
func (r *RedisCache) AddRecentOutcome(ctx context.Context, outcome *models.BundleOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, redisKeyRecentOutcomes, data)
	pipe.LTrim(ctx, redisKeyRecentOutcomes, 0, maxRecentOutcomes-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push recent outcome: %w", err)
	}
	return nil
}

// GetRecentOutcomes returns up to limit most recent outcomes, newest first
func (r *RedisCache) GetRecentOutcomes(ctx context.Context, limit int64) ([]*models.BundleOutcome, error) {
	if limit <= 0 || limit > maxRecentOutcomes {
		limit = maxRecentOutcomes
	}

	raw, err := r.client.LRange(ctx, redisKeyRecentOutcomes, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent outcomes: %w", err)
	}

	outcomes := make([]*models.BundleOutcome, 0, len(raw))
	for _, item := range raw {
		var o models.BundleOutcome
		if err := json.Unmarshal([]byte(item), &o); err != nil {
			continue // skip corrupt entries
		}
		outcomes = append(outcomes, &o)
	}
	return outcomes, nil
}

// PublishOutcome broadcasts the outcome to live subscribers
func (r *RedisCache) PublishOutcome(ctx context.Context, outcome *models.BundleOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return r.client.Publish(ctx, pubSubChannelOutcomes, data).Err()
}

// SubscribeOutcomes subscribes to live outcome events until ctx ends
func (r *RedisCache) SubscribeOutcomes(ctx context.Context, handler func(*models.BundleOutcome)) error {
	pubsub := r.client.Subscribe(ctx, pubSubChannelOutcomes)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var o models.BundleOutcome
			if err := json.Unmarshal([]byte(msg.Payload), &o); err != nil {
				continue
			}
			handler(&o)
		}
	}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
