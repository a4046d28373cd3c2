package config

import (
	"encoding/json"
	"errors"
	"slices"
)

var (
	ErrExpressionOrListMustBeStringOrObject = errors.New("config: this must be a string or an object")
	ErrExpressionEmpty                      = errors.New("config: this expression is empty")
	ErrExpressionCantHaveBoth               = errors.New("config: expression block can't contain multiple expression types")
)

// ExpressionOrList is a CEL expression written either as one string or as
// an object with an "all" or "any" list of clauses.
type ExpressionOrList struct {
	Expression string   `json:"-"`
	All        []string `json:"all,omitempty"`
	Any        []string `json:"any,omitempty"`
}

func (eol ExpressionOrList) Equal(rhs *ExpressionOrList) bool {
	return eol.Expression == rhs.Expression &&
		slices.Equal(eol.All, rhs.All) &&
		slices.Equal(eol.Any, rhs.Any)
}

func (eol ExpressionOrList) Empty() bool {
	return eol.Expression == "" && len(eol.All) == 0 && len(eol.Any) == 0
}

func (eol ExpressionOrList) MarshalJSON() ([]byte, error) {
	if eol.Expression != "" {
		return json.Marshal(eol.Expression)
	}

	type RawExpressionOrList ExpressionOrList
	return json.Marshal(RawExpressionOrList(eol))
}

func (eol *ExpressionOrList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return ErrExpressionOrListMustBeStringOrObject
	}

	switch data[0] {
	case '"':
		*eol = ExpressionOrList{}
		return json.Unmarshal(data, &eol.Expression)
	case '{':
		type RawExpressionOrList ExpressionOrList
		var val RawExpressionOrList
		if err := json.Unmarshal(data, &val); err != nil {
			return err
		}
		*eol = ExpressionOrList(val)
		return nil
	}

	return ErrExpressionOrListMustBeStringOrObject
}

func (eol *ExpressionOrList) Valid() error {
	if eol.Empty() {
		return ErrExpressionEmpty
	}

	if len(eol.All) != 0 && len(eol.Any) != 0 {
		return ErrExpressionCantHaveBoth
	}

	return nil
}
