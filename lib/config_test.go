package lib

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/configstore"
)

func TestLoadConfigOrDefault(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		cs, err := LoadConfigOrDefault(t.Context(), "")
		if err != nil {
			t.Fatal(err)
		}
		if cs.Get().Config.Verification.MaxAttempts != config.Defaults().Verification.MaxAttempts {
			t.Error("wanted the defaults")
		}
	})

	t.Run("good file", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(fname, []byte("verification:\n  maxAttempts: 3\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		cs, err := LoadConfigOrDefault(t.Context(), fname)
		if err != nil {
			t.Fatal(err)
		}
		if got := cs.Get().Config.Verification.MaxAttempts; got != 3 {
			t.Errorf("wanted maxAttempts 3, got %d", got)
		}
	})

	t.Run("bad file", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(fname, []byte(`{"verification": {"difficulty": "impossible"}}`), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := LoadConfigOrDefault(t.Context(), fname); !errors.Is(err, configstore.ErrInvalidConfig) {
			t.Fatalf("wanted ErrInvalidConfig, got %v", err)
		}
	})
}
