package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-service/internal/port"
)

const (
	messageKeyPrefix  = "inventory:message:"
	idempotencyKeyTTL = 24 * time.Hour
	claimLeaseTTL     = 30 * time.Second

	claimPending = "pending"
	claimDone    = "done"
)

// RedisAdapter records which inbound messages are in flight or processed.
// An unreleased claim expires with its lease, so a failed attempt never blocks its retries for long.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
	lease  time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL, lease: claimLeaseTTL}
}

func (r *RedisAdapter) Claim(ctx context.Context, key string) (port.ClaimStatus, error) {
	ok, err := r.client.SetNX(ctx, messageKeyPrefix+key, claimPending, r.lease).Result()
	if err != nil {
		return port.ClaimHeld, err
	}
	if ok {
		return port.ClaimAcquired, nil
	}

	state, err := r.client.Get(ctx, messageKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// lease expired between the two calls, the next attempt takes it
		return port.ClaimHeld, nil
	}
	if err != nil {
		return port.ClaimHeld, err
	}
	if state == claimDone {
		return port.ClaimDone, nil
	}
	return port.ClaimHeld, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string) error {
	return r.client.Set(ctx, messageKeyPrefix+key, claimDone, r.ttl).Err()
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, messageKeyPrefix+key).Err()
}
