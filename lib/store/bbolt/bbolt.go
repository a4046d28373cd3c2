package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uvensys/miaoeyes/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
	ErrShortRecord        = errors.New("bbolt: record is shorter than its header")
)

// bucketName is the single bucket every value lives in.
var bucketName = []byte("miaoeyes")

const headerLen = 8

// Store implements store.Interface backed by bbolt[1].
//
// Every value is stored in one bucket as a record with an 8 byte header
// holding the expiry as big-endian unix nanoseconds (zero means the value
// never expires) followed by the raw value. The cleanup pass only has to
// read the header of each record.
//
// bbolt holds an exclusive file lock, so it only suits a single MiaoEyes
// instance. Use valkey when several instances share state.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
	now func() time.Time
}

func encode(value []byte, expires time.Time) []byte {
	rec := make([]byte, headerLen+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(rec, uint64(expires.UnixNano()))
	}
	copy(rec[headerLen:], value)
	return rec
}

func decode(rec []byte) (time.Time, []byte, error) {
	if len(rec) < headerLen {
		return time.Time{}, nil, ErrShortRecord
	}

	var expires time.Time
	if n := binary.BigEndian.Uint64(rec); n != 0 {
		expires = time.Unix(0, int64(n))
	}
	return expires, rec[headerLen:], nil
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return ErrBucketDoesNotExist
		}

		if bkt.Get([]byte(key)) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return bkt.Delete([]byte(key))
	})
}

// Get a value from the datastore. Expired values are reported as missing
// and removed in the background.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte
	expired := false

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return ErrBucketDoesNotExist
		}

		rec := bkt.Get([]byte(key))
		if rec == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		expires, data, err := decode(rec)
		if err != nil {
			return fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
		}

		if !expires.IsZero() && s.now().After(expires) {
			expired = true
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		// data is only valid for the life of the transaction.
		result = append([]byte(nil), data...)
		return nil
	}); err != nil {
		if expired {
			go s.Delete(context.Background(), key)
		}
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	var expires time.Time
	if expiry > 0 {
		expires = s.now().Add(expiry)
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return ErrBucketDoesNotExist
		}

		if err := bkt.Put([]byte(key), encode(value, expires)); err != nil {
			return fmt.Errorf("%w: %w: %q", store.ErrCantEncode, err, key)
		}

		return nil
	})
}

func (s *Store) cleanup(ctx context.Context) (int, error) {
	now := s.now()
	var stale [][]byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return ErrBucketDoesNotExist
		}

		return bkt.ForEach(func(key, rec []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			expires, _, err := decode(rec)
			if err != nil {
				slog.Warn("bbolt cleanup found a malformed record, removing it", "key", string(key), "err", err)
				stale = append(stale, append([]byte(nil), key...))
				return nil
			}

			if !expires.IsZero() && now.After(expires) {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		})
	}); err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		return 0, nil
	}

	return len(stale), s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		for _, key := range stale {
			if err := bkt.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	defer s.bdb.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.cleanup(ctx)
			if err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
				continue
			}
			slog.Debug("bbolt cleanup finished", "removed", n)
		}
	}
}
