package redisrepo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	client *redis.Client
}

func NewRateLimitRepository(client *redis.Client) RateLimitRepository {
	return &rateLimitRepository{client: client}
}

// CheckRateLimit implements a fixed-window counter: the first increment in
// a window sets the expiry, subsequent ones share it. Fails open on Redis
// errors so an unavailable limiter never blocks logins.
func (r *rateLimitRepository) CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rlKey := "ratelimit:" + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, rlKey)
	pipe.ExpireNX(ctx, rlKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, nil
	}

	return incr.Val() <= int64(requests), nil
}
