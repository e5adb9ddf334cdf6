package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	// Prefix namespaces the counters, e.g. "authtest:".
	Prefix                string
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// Limiter enforces a per-identifier budget of failed sign-ins using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate: redis client required")
	}
	if cfg.MaxLoginAttempts <= 0 || cfg.LoginCooldownDuration <= 0 {
		return nil, errors.New("rate: MaxLoginAttempts and LoginCooldownDuration must be > 0")
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}, nil
}

// CheckLogin returns ErrRateLimited when identifier has used up its budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier string) error {
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	return nil
}

// IncrementLogin records a failed attempt. It returns ErrRateLimited once the
// attempt that exhausts the budget has been recorded.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier string) error {
	key := l.loginKey(identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.LoginCooldownDuration).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the counter after a successful sign-in.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the current counter. Missing keys count as zero.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.Prefix + "al:" + strings.ToLower(strings.TrimSpace(identifier))
}
