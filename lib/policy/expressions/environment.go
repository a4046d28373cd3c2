// Package expressions holds the CEL environment used to write custom
// auto-verification decisions, and the adaptors that expose request data to
// CEL programs.
package expressions

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/uvensys/miaoeyes/lib/config"
)

var ErrNotBoolean = errors.New("expressions: expression must evaluate to a bool")

// NewEnvironment creates the CEL environment for auto-verification
// decisions. Every variable and function a decision may use is declared
// here so a bad expression fails when the configuration is loaded, not when
// a visitor arrives.
func NewEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(
			ext.StringsLocale("en_US"),
			ext.StringsValidateFormatCalls(true),
		),

		// default all timestamps to UTC
		cel.DefaultUTCTimeZone(true),

		// Variables exposed to CEL programs:
		cel.Variable("score", cel.DoubleType),
		cel.Variable("remoteAddress", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("userAgent", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DynType)),

		// Functions exposed to CEL programs:
		cel.Function("load_1m",
			cel.Overload("load_1m_double", []*cel.Type{}, cel.DoubleType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val { return types.Double(Load1()) }),
			),
		),
		cel.Function("load_5m",
			cel.Overload("load_5m_double", []*cel.Type{}, cel.DoubleType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val { return types.Double(Load5()) }),
			),
		),
		cel.Function("load_15m",
			cel.Overload("load_15m_double", []*cel.Type{}, cel.DoubleType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val { return types.Double(Load15()) }),
			),
		),
	)
}

// Compile takes CEL environment and syntax tree then emits an optimized
// Program for execution.
func Compile(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w, got %s", ErrNotBoolean, ast.OutputType())
	}

	return env.Program(
		ast,
		cel.EvalOptions(
			// optimize regular expressions right now instead of on the fly
			cel.OptOptimize,
		),
	)
}

// CompileExpression parses, type-checks and compiles a configured
// expression. All and Any lists are joined with && and || respectively.
func CompileExpression(env *cel.Env, eol config.ExpressionOrList) (cel.Program, error) {
	if err := eol.Valid(); err != nil {
		return nil, err
	}

	var ast *cel.Ast
	var err error

	switch {
	case eol.Expression != "":
		var iss *cel.Issues
		ast, iss = env.Compile(eol.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("%w: %q gave: %w", ErrCantCompile, eol.Expression, iss.Err())
		}
	case len(eol.All) != 0:
		ast, err = Join(env, JoinAnd, eol.All...)
	case len(eol.Any) != 0:
		ast, err = Join(env, JoinOr, eol.Any...)
	}

	if err != nil {
		return nil, err
	}

	return Compile(env, ast)
}
