package expressions

import (
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// HTTPHeaders exposes request headers to CEL programs as a map of
// canonical header name to the comma-joined values.
type HTTPHeaders struct {
	http.Header
}

func (h HTTPHeaders) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if typeDesc == reflect.TypeOf(http.Header{}) {
		return h.Header, nil
	}
	return nil, ErrNotImplemented
}

func (h HTTPHeaders) ConvertToType(typeVal ref.Type) ref.Val {
	switch typeVal {
	case types.MapType:
		return h
	case types.TypeType:
		return types.MapType
	}

	return types.NewErr("can't convert from %q to %q", types.MapType, typeVal)
}

// Equal always reports false; header maps are not compared.
func (h HTTPHeaders) Equal(other ref.Val) ref.Val {
	return types.Bool(false)
}

func (h HTTPHeaders) Type() ref.Type {
	return types.MapType
}

func (h HTTPHeaders) Value() any { return h }

func (h HTTPHeaders) Find(key ref.Val) (ref.Val, bool) {
	k, ok := key.(types.String)
	if !ok {
		return nil, false
	}

	vals := h.Header.Values(string(k))
	if len(vals) == 0 {
		return nil, false
	}

	return types.String(strings.Join(vals, ",")), true
}

func (h HTTPHeaders) Contains(key ref.Val) ref.Val {
	_, ok := h.Find(key)
	return types.Bool(ok)
}

func (h HTTPHeaders) Get(key ref.Val) ref.Val {
	result, ok := h.Find(key)
	if !ok {
		return types.ValOrErr(result, "no such key: %v", key)
	}
	return result
}

func (h HTTPHeaders) Iterator() traits.Iterator {
	keys := make([]string, 0, len(h.Header))
	for k := range h.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return &keyIterator{keys: keys}
}

func (h HTTPHeaders) IsZeroValue() bool {
	return len(h.Header) == 0
}

func (h HTTPHeaders) Size() ref.Val { return types.Int(len(h.Header)) }

type keyIterator struct {
	keys []string
	pos  int
}

func (it *keyIterator) HasNext() ref.Val { return types.Bool(it.pos < len(it.keys)) }

func (it *keyIterator) Next() ref.Val {
	if it.pos >= len(it.keys) {
		return nil
	}
	k := it.keys[it.pos]
	it.pos++
	return types.String(k)
}

func (it *keyIterator) ConvertToNative(reflect.Type) (any, error) { return nil, ErrNotImplemented }

func (it *keyIterator) ConvertToType(ref.Type) ref.Val {
	return types.NewErr("can't convert an iterator")
}

func (it *keyIterator) Equal(ref.Val) ref.Val { return types.Bool(false) }
func (it *keyIterator) Type() ref.Type        { return types.IteratorType }
func (it *keyIterator) Value() any            { return it }
