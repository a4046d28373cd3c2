// Package storetest is a conformance suite every store backend runs.
package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/uvensys/miaoeyes/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("deleting missing key %q: want ErrNotFound, got %v", t.Name(), err)
				}

				return nil
			},
		},
		{
			name: "overwrite",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("first"), time.Minute); err != nil {
					return err
				}
				if err := s.Set(t.Context(), t.Name(), []byte("second"), time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}
				if string(val) != "second" {
					t.Errorf("want %q after overwrite, got %q", "second", val)
				}
				return nil
			},
		},
		{
			name: "forever",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("x"), store.Forever); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); err != nil {
					t.Errorf("value stored without expiry is missing: %v", err)
				}
				return nil
			},
		},
		{
			name: "json view",
			doer: func(t *testing.T, s store.Interface) error {
				type record struct {
					Total int `json:"total"`
				}

				db := store.JSON[record]{Underlying: s, Prefix: "json:"}
				got, err := db.GetOr(t.Context(), t.Name(), record{Total: -1})
				if err != nil {
					return err
				}
				if got.Total != -1 {
					t.Errorf("GetOr on a missing key returned %+v", got)
				}

				if err := db.Set(t.Context(), t.Name(), record{Total: 7}, time.Minute); err != nil {
					return err
				}

				got, err = db.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}
				if got.Total != 7 {
					t.Errorf("want total 7, got %d", got.Total)
				}
				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
