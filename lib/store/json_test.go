package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/uvensys/miaoeyes/lib/store"
	"github.com/uvensys/miaoeyes/lib/store/memory"
)

func TestJSON(t *testing.T) {
	type data struct {
		ID string `json:"id"`
	}

	st := memory.New(t.Context())
	db := store.JSON[data]{
		Underlying: st,
		Prefix:     "foo:",
	}

	if err := db.Set(t.Context(), "test", data{ID: t.Name()}, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(t.Context(), "test")
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != t.Name() {
		t.Fatalf("got wrong data for key \"test\", wanted %q but got: %q", t.Name(), got.ID)
	}

	if err := db.Delete(t.Context(), "test"); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get(t.Context(), "test"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("wanted ErrNotFound after delete, got %v", err)
	}

	if err := st.Set(t.Context(), "foo:test", []byte("}"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get(t.Context(), "test"); !errors.Is(err, store.ErrCantDecode) {
		t.Fatalf("wanted ErrCantDecode for a corrupt value, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	if _, err := store.Open(t.Context(), "memory", nil); err != nil {
		t.Fatalf("memory backend: %v", err)
	}

	if _, err := store.Open(t.Context(), "carrier-pigeon", nil); !errors.Is(err, store.ErrBadConfig) {
		t.Fatalf("unknown backend: want ErrBadConfig, got %v", err)
	}
}
