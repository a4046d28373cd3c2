package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uvensys/miaoeyes/lib/store"
	_ "github.com/uvensys/miaoeyes/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.StorageBackend: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.StorageBackend: unknown backend")
)

// StorageBackend selects the store holding statistics and verified client
// addresses.
type StorageBackend struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *StorageBackend) Valid() error {
	var errs []error

	if len(s.Backend) == 0 {
		errs = append(errs, ErrNoStoreBackend)
	}

	fac, ok := store.Get(s.Backend)
	switch ok {
	case true:
		params := s.Parameters
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		if err := fac.Valid(params); err != nil {
			errs = append(errs, err)
		}
	case false:
		if len(s.Backend) != 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, s.Backend))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
