package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const compareAndClearScript = `
local current = redis.call("GET", KEYS[1])
if current and current == ARGV[1] then
  redis.call("DEL", KEYS[1], KEYS[2])
  return 1
end
return 0
`

var compareAndClearLua = redis.NewScript(compareAndClearScript)

// Redis is a Repository backed by a go-redis client. Keys carry no expiry; the
// credential lives until it is cleared.
type Redis struct {
	redis     redis.UniversalClient
	tokenKey  string
	recordKey string
}

// NewRedis returns a repository storing its keys under namespace.
//
//	Performance: Get/Set/Clear are one Redis command; CompareAndClear is one EVALSHA.
func NewRedis(client redis.UniversalClient, namespace string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if !validNamespace(namespace) {
		return nil, ErrInvalidNamespace
	}
	tokenKey, recordKey := Keys(namespace)
	return &Redis{
		redis:     client,
		tokenKey:  tokenKey,
		recordKey: recordKey,
	}, nil
}

func (r *Redis) Get(ctx context.Context) (string, error) {
	token, err := r.redis.Get(ctx, r.tokenKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

func (r *Redis) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := r.redis.Set(ctx, r.tokenKey, token, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.tokenKey, r.recordKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) CompareAndClear(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := compareAndClearLua.Run(ctx, r.redis, []string{r.tokenKey, r.recordKey}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

func (r *Redis) GetRecord(ctx context.Context) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.recordKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (r *Redis) SetRecord(ctx context.Context, data []byte) error {
	if err := r.redis.Set(ctx, r.recordKey, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
