package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayGuard claims signatures via SET NX, giving an atomic
// claim-or-reject with TTL-based expiry so the claimed set never grows
// unbounded.
type RedisReplayGuard struct {
	Client *redis.Client
	Prefix string
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{Client: client, Prefix: "strata:signedreq:"}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	ok, err := g.Client.SetNX(ctx, g.Prefix+signature, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
