package expressions

import (
	"errors"
	"net/http"
	"testing"

	"github.com/uvensys/miaoeyes/lib/config"
)

func TestCompileExpression(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		eol  config.ExpressionOrList
		err  error
		want bool
	}{
		{
			name: "score threshold",
			eol:  config.ExpressionOrList{Expression: `score >= 0.5`},
			want: true,
		},
		{
			name: "signals and headers",
			eol: config.ExpressionOrList{All: []string{
				`"screenWidth" in signals && signals["screenWidth"] >= 1024.0`,
				`"Accept-Language" in headers`,
			}},
			want: true,
		},
		{
			name: "load average is callable",
			eol:  config.ExpressionOrList{Any: []string{`load_1m() >= 0.0`}},
			want: true,
		},
		{
			name: "not a bool",
			eol:  config.ExpressionOrList{Expression: `score * 2.0`},
			err:  ErrNotBoolean,
		},
		{
			name: "unknown variable",
			eol:  config.ExpressionOrList{Expression: `cookies.size() > 0`},
			err:  ErrCantCompile,
		},
		{
			name: "empty",
			err:  config.ErrExpressionEmpty,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			program, err := CompileExpression(env, tt.eol)
			if !errors.Is(err, tt.err) {
				t.Fatalf("want error %v, got %v", tt.err, err)
			}
			if tt.err != nil {
				return
			}

			out, _, err := program.Eval(map[string]any{
				"score":         0.8,
				"remoteAddress": "198.51.100.7",
				"host":          "example.com",
				"userAgent":     "Mozilla/5.0",
				"path":          "/",
				"headers":       HTTPHeaders{Header: http.Header{"Accept-Language": {"en-US"}}},
				"signals":       map[string]any{"screenWidth": 1920.0},
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := out.Value().(bool); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
