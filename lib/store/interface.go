package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the value
	// for a given key.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface is the small key/value contract MiaoEyes needs from a backend:
// the verified-address cache and the persisted statistics both go through
// it. Sessions never do; they live in process memory only.
type Interface interface {
	// Delete removes a value from the store by key. Deleting a missing key
	// returns an error wrapping ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry.
	// An expiry of zero or less keeps the value until it is deleted.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

// Forever is the expiry used for values that should never expire.
const Forever time.Duration = 0

func z[T any]() T { return *new(T) }

// JSON is a typed view over an Interface that stores values as JSON under an
// optional key prefix.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	return j.Prefix + key
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

// GetOr returns the stored value, or def when the key does not exist. Other
// errors are returned as-is.
func (j *JSON[T]) GetOr(ctx context.Context, key string, def T) (T, error) {
	result, err := j.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return result, err
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Set(ctx, j.key(key), data, expiry)
}
