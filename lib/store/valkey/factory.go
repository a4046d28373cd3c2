package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uvensys/miaoeyes/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")
)

func init() {
	store.Register("valkey", Factory{})
}

// Factory builds valkey (or redis) backed stores. This is the backend to use
// when several MiaoEyes instances sit behind one load balancer.
type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	opts, err := valkey.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	rdb := valkey.NewClient(opts)

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	return &Store{
		rdb:    rdb,
		prefix: config.Prefix,
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return config, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return config, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return config, nil
}

// Config is the valkey storage backend configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string `json:"url"`

	// Prefix is prepended to every key, so several deployments can share
	// one database. Defaults to "miaoeyes:".
	Prefix string `json:"prefix,omitempty"`
}

func (c *Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.URL); err != nil {
		errs = append(errs, ErrBadURL)
	}

	if c.Prefix == "" {
		c.Prefix = "miaoeyes:"
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
