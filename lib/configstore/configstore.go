// Package configstore keeps the current configuration in memory as an
// immutable, versioned snapshot and persists changes to a JSON or YAML file.
//
// Readers call Get, which is a single atomic load. Writers are serialized,
// write the file first and only then publish the new snapshot.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/lib/config"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

var (
	ErrUnavailable   = errors.New("configstore: configuration backend unavailable")
	ErrInvalidPatch  = errors.New("configstore: patch is not a JSON object")
	ErrInvalidConfig = errors.New("configstore: resulting configuration is invalid")
)

var (
	configVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "miaoeyes_config_version",
		Help: "The version number of the configuration snapshot currently in use",
	})

	configWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_config_writes",
		Help: "The number of configuration writes by result",
	}, []string{"result"})
)

// Snapshot is one immutable generation of the configuration. Never mutate
// Config through a Snapshot; use Clone.
type Snapshot struct {
	Version   uint64
	UpdatedAt time.Time
	Config    config.Config
}

// Store is what the gateway needs from configuration storage.
type Store interface {
	// Get returns the current snapshot without doing I/O.
	Get() Snapshot

	// Update deep-merges patch (a JSON object shaped like config.Config) over
	// the current configuration. Keys missing from patch keep their value.
	Update(ctx context.Context, patch json.RawMessage) (Snapshot, error)

	// Mutate applies fn to a copy of the current configuration. When fn
	// reports no change nothing is written.
	Mutate(ctx context.Context, fn func(*config.Config) (bool, error)) (Snapshot, error)

	// Reset replaces the configuration with the built-in defaults.
	Reset(ctx context.Context) (Snapshot, error)
}

// File is a Store persisted to a file. An empty path keeps the
// configuration in memory only.
type File struct {
	path string

	cur     atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	now     func() time.Time
}

var _ Store = (*File)(nil)

// New creates a File store holding the defaults. Call Load to read path.
func New(path string) *File {
	f := &File{path: path, now: time.Now}
	f.publish(0, config.Defaults())
	return f
}

func (f *File) Path() string { return f.path }

func (f *File) Get() Snapshot {
	return *f.cur.Load()
}

func (f *File) publish(version uint64, cfg config.Config) Snapshot {
	snap := &Snapshot{Version: version, UpdatedAt: f.now(), Config: cfg}
	f.cur.Store(snap)
	configVersion.Set(float64(version))
	return *snap
}

// Load reads the configuration file and merges it over the defaults. A
// missing file is created with the defaults. On any failure the previous
// snapshot stays in place and the error wraps ErrUnavailable or
// ErrInvalidConfig.
func (f *File) Load(ctx context.Context) error {
	if f.path == "" {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("configuration file does not exist, writing defaults", "path", f.path)
		cfg := config.Defaults()
		if err := f.write(cfg); err != nil {
			return err
		}
		f.publish(f.Get().Version+1, cfg)
		return nil
	case err != nil:
		return fmt.Errorf("%w: can't read %s: %w", ErrUnavailable, f.path, err)
	}

	cfg := config.Defaults()
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return fmt.Errorf("%w: can't parse %s: %w", ErrUnavailable, f.path, err)
	}

	if err := cfg.Valid(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	snap := f.publish(f.Get().Version+1, cfg)
	slog.Debug("loaded configuration", "path", f.path, "version", snap.Version)
	return nil
}

// Decode merges a JSON or YAML document into dst. Objects merge key by key,
// arrays and scalars present in the document replace what dst had.
// An empty document leaves dst untouched.
func Decode(r io.Reader, dst *config.Config) error {
	if err := k8syaml.NewYAMLToJSONDecoder(r).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (f *File) Update(ctx context.Context, patch json.RawMessage) (Snapshot, error) {
	trimmed := bytes.TrimSpace(patch)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return f.Get(), ErrInvalidPatch
	}

	return f.Mutate(ctx, func(cfg *config.Config) (bool, error) {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
		}
		return true, nil
	})
}

func (f *File) Mutate(ctx context.Context, fn func(*config.Config) (bool, error)) (Snapshot, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	cur := f.Get()
	if err := ctx.Err(); err != nil {
		return cur, err
	}

	next := cur.Config.Clone()
	changed, err := fn(&next)
	if err != nil {
		return cur, err
	}
	if !changed {
		return cur, nil
	}

	if err := next.Valid(); err != nil {
		configWrites.WithLabelValues("invalid").Inc()
		return cur, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := f.write(next); err != nil {
		return cur, err
	}

	return f.publish(cur.Version+1, next), nil
}

func (f *File) Reset(ctx context.Context) (Snapshot, error) {
	return f.Mutate(ctx, func(cfg *config.Config) (bool, error) {
		*cfg = config.Defaults()
		return true, nil
	})
}

// write persists cfg atomically: encode, write a sibling temp file, rename.
func (f *File) write(cfg config.Config) error {
	if f.path == "" {
		configWrites.WithLabelValues("memory").Inc()
		return nil
	}

	data, err := Encode(f.path, cfg)
	if err != nil {
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: can't encode configuration: %w", ErrUnavailable, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	tmp, err := os.CreateTemp(dir, ".miaoeyes-config-*")
	if err != nil {
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		configWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	configWrites.WithLabelValues("ok").Inc()
	return nil
}

// Encode renders cfg as YAML when path ends in .yaml or .yml and as
// indented JSON otherwise.
func Encode(path string, cfg config.Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}
