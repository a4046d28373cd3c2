package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uvensys/miaoeyes/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

type Store struct {
	rdb    *valkey.Client
	prefix string
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	return result, nil
}

// Set stores value under key. valkey treats a zero expiry as "keep forever",
// which matches store.Forever.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if expiry < 0 {
		expiry = 0
	}

	if err := s.rdb.Set(ctx, s.prefix+key, value, expiry).Err(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}
