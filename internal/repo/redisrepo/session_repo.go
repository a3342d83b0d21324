package redisrepo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRepository tracks revoked session tokens. Logout stores the
// token's jti until its natural expiry, so a revoked cookie stops working
// immediately even though the JWT itself is still signed and unexpired.
type SessionRepository interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type sessionRepository struct {
	client *redis.Client
}

func NewSessionRepository(client *redis.Client) SessionRepository {
	return &sessionRepository{client: client}
}

func sessionKey(jti string) string {
	return "session:revoked:" + jti
}

func (r *sessionRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already expired; nothing to deny.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.client.Set(ctx, sessionKey(jti), "1", ttl).Err()
}

func (r *sessionRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := r.client.Exists(ctx, sessionKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
