package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds a backend from its raw JSON parameters.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

// Open looks up backend by name, validates its parameters and builds it.
func Open(ctx context.Context, backend string, parameters json.RawMessage) (Interface, error) {
	f, ok := Get(backend)
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q, known: %v", ErrBadConfig, backend, Methods())
	}

	if len(parameters) == 0 {
		parameters = json.RawMessage("{}")
	}

	if err := f.Valid(parameters); err != nil {
		return nil, err
	}

	return f.Build(ctx, parameters)
}
