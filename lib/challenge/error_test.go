package challenge

import (
	"errors"
	"net/http"
	"testing"
)

func TestError(t *testing.T) {
	err := NewError("validate", "invalid response", ErrFailed)

	if !errors.Is(err, ErrFailed) {
		t.Error("error does not unwrap to its private reason")
	}

	var cerr *Error
	if !errors.As(error(err), &cerr) || cerr.StatusCode != http.StatusForbidden {
		t.Errorf("unexpected error: %#v", cerr)
	}
}
