package config

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExpressionOrListUnmarshal(t *testing.T) {
	for _, tt := range []struct {
		name string
		inp  string
		want ExpressionOrList
		err  error
	}{
		{
			name: "simple",
			inp:  `"score >= 0.5"`,
			want: ExpressionOrList{Expression: "score >= 0.5"},
		},
		{
			name: "object-all",
			inp:  `{"all": ["score >= 0.5", "load_1m() < 4.0"]}`,
			want: ExpressionOrList{All: []string{"score >= 0.5", "load_1m() < 4.0"}},
		},
		{
			name: "object-any",
			inp:  `{"any": ["score >= 0.9"]}`,
			want: ExpressionOrList{Any: []string{"score >= 0.9"}},
		},
		{
			name: "number",
			inp:  `1`,
			err:  ErrExpressionOrListMustBeStringOrObject,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var got ExpressionOrList
			err := json.Unmarshal([]byte(tt.inp), &got)
			if !errors.Is(err, tt.err) {
				t.Fatalf("want error %v, got %v", tt.err, err)
			}
			if tt.err != nil {
				return
			}
			if !got.Equal(&tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}

			// Round trips through MarshalJSON.
			data, err := json.Marshal(got)
			if err != nil {
				t.Fatal(err)
			}
			var again ExpressionOrList
			if err := json.Unmarshal(data, &again); err != nil {
				t.Fatal(err)
			}
			if !again.Equal(&got) {
				t.Errorf("round trip changed value: %+v -> %s -> %+v", got, data, again)
			}
		})
	}
}

func TestExpressionOrListValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		eol  ExpressionOrList
		err  error
	}{
		{name: "empty", err: ErrExpressionEmpty},
		{name: "both", eol: ExpressionOrList{All: []string{"true"}, Any: []string{"true"}}, err: ErrExpressionCantHaveBoth},
		{name: "ok", eol: ExpressionOrList{Expression: "true"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.eol.Valid(); !errors.Is(err, tt.err) {
				t.Errorf("want %v, got %v", tt.err, err)
			}
		})
	}
}
