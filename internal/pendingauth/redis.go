package pendingauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/strata/pkg/token"
)

const keyPrefix = "strata:pendingauth:"

// RedisStore implements Store against Redis, using the key's own TTL as
// the expiry mechanism rather than an ExpiresAt field checked on read.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(pubkey string) string { return keyPrefix + pubkey }

func (s *RedisStore) Create(ctx context.Context, pubkey string, ttl time.Duration) (*token.PendingAuth, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	code, err := token.GenerateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	pa := &token.PendingAuth{PubKey: pubkey, Code: code, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	raw, err := json.Marshal(pa)
	if err != nil {
		return nil, fmt.Errorf("pendingauth: marshal: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(pubkey), raw, ttl).Err(); err != nil {
		return nil, fmt.Errorf("pendingauth: create: %w", err)
	}
	return pa, nil
}

func (s *RedisStore) Get(ctx context.Context, pubkey string) (*token.PendingAuth, error) {
	raw, err := s.client.Get(ctx, redisKey(pubkey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pendingauth: get: %w", err)
	}
	var pa token.PendingAuth
	if err := json.Unmarshal(raw, &pa); err != nil {
		return nil, fmt.Errorf("pendingauth: decode: %w", err)
	}
	return &pa, nil
}

func (s *RedisStore) ValidateCode(ctx context.Context, pubkey, code string) (bool, error) {
	pa, err := s.Get(ctx, pubkey)
	if err != nil {
		return false, err
	}
	if pa == nil {
		return false, nil
	}
	return pa.Code == code, nil
}

// Approve marks a pending candidate approved and binds it to userID. The
// TTL on the key is preserved (Redis GETSET/SET with KEEPTTL semantics)
// so approval does not grant the candidate a longer life than it started
// with — the caller is expected to promote it to an AuthorizedPubkey
// promptly via token.Store.StoreAuthorizedPubkey.
func (s *RedisStore) Approve(ctx context.Context, pubkey, userID string) error {
	pa, err := s.Get(ctx, pubkey)
	if err != nil {
		return err
	}
	if pa == nil {
		return fmt.Errorf("pendingauth: %s not found or expired", pubkey)
	}
	pa.Approved = true
	pa.UserID = userID

	raw, err := json.Marshal(pa)
	if err != nil {
		return fmt.Errorf("pendingauth: marshal: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(pubkey), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("pendingauth: approve: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, pubkey string) error {
	if err := s.client.Del(ctx, redisKey(pubkey)).Err(); err != nil {
		return fmt.Errorf("pendingauth: delete: %w", err)
	}
	return nil
}
