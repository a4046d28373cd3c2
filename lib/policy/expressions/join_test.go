package expressions

import (
	"errors"
	"testing"
)

func TestJoin(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name    string
		clauses []string
		op      JoinOperator
		err     error
		vars    map[string]any
		want    bool
	}{
		{
			name:    "no-clauses",
			clauses: []string{},
			op:      JoinAnd,
			err:     ErrNoExpressions,
		},
		{
			name:    "bad-operator",
			clauses: []string{"true"},
			op:      "^^",
			err:     ErrWrongJoinOperator,
		},
		{
			name:    "bad-clause",
			clauses: []string{"score >>> 1"},
			op:      JoinAnd,
			err:     ErrCantCompile,
		},
		{
			name:    "one-clause-identity",
			clauses: []string{`remoteAddress == "8.8.8.8"`},
			op:      JoinAnd,
			vars:    map[string]any{"remoteAddress": "8.8.8.8"},
			want:    true,
		},
		{
			name: "multi-clause-and",
			clauses: []string{
				`score >= 0.5`,
				`userAgent.contains("Firefox")`,
			},
			op:   JoinAnd,
			vars: map[string]any{"score": 0.9, "userAgent": "curl/8.0"},
			want: false,
		},
		{
			name: "multi-clause-or",
			clauses: []string{
				`score >= 0.5`,
				`userAgent.contains("Firefox")`,
			},
			op:   JoinOr,
			vars: map[string]any{"score": 0.9, "userAgent": "curl/8.0"},
			want: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := Join(env, tt.op, tt.clauses...)
			if !errors.Is(err, tt.err) {
				t.Fatalf("wanted error %v but got: %v", tt.err, err)
			}

			if tt.err != nil {
				return
			}

			program, err := Compile(env, ast)
			if err != nil {
				t.Fatal(err)
			}

			vars := map[string]any{
				"score":         0.0,
				"remoteAddress": "",
				"host":          "",
				"userAgent":     "",
				"path":          "/",
				"headers":       map[string]string{},
				"signals":       map[string]any{},
			}
			for k, v := range tt.vars {
				vars[k] = v
			}

			out, _, err := program.Eval(vars)
			if err != nil {
				t.Fatal(err)
			}
			if got := out.Value().(bool); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
