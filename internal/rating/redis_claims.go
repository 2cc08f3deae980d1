package rating

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaims shares rating claims between engine hosts.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClaims(addr, password string, ttl time.Duration) *RedisClaims {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisClaims{client: c, ttl: ttl}
}

func (r *RedisClaims) Claim(ctx context.Context, rideID string) (bool, error) {
	return r.client.SetNX(ctx, claimKey(rideID), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

func (r *RedisClaims) Release(ctx context.Context, rideID string) error {
	return r.client.Del(ctx, claimKey(rideID)).Err()
}

func (r *RedisClaims) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisClaims) Close() error { return r.client.Close() }

func claimKey(rideID string) string { return "rating:claim:" + rideID }
