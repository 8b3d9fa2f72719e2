// Package transform provides the sandboxed expression step executor.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
)

const StepType = "transform"

var (
	ErrMissingCode      = errors.New("transform code is required")
	ErrResultNotObject  = errors.New("transform result must be an object")
	ErrResultNotJSONish = errors.New("transform result is not JSON serializable")
)

// Action evaluates a user snippet against a read-only copy of the execution
// context. Snippets have no access to I/O: the expression language only offers
// pure builtins.
type Action struct {
	logger *slog.Logger
}

func NewAction(logger *slog.Logger) *Action {
	return &Action{logger: logger.With("module", "transform_action")}
}

func (a *Action) Type() string {
	return StepType
}

// Execute runs config["code"]. The snippet is either a bare expression or a
// sequence of let statements ending in an explicit return.
func (a *Action) Execute(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error) {
	output, err := a.run(ctx, config, execCtx)
	if err != nil {
		return nil, fmt.Errorf("transform step failed: %w", err)
	}

	return output, nil
}

func (a *Action) run(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error) {
	code, _ := config["code"].(string)
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingCode
	}

	env, err := cloneContext(execCtx)
	if err != nil {
		return nil, err
	}

	program, err := expr.Compile(normalize(code), expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile snippet: %w", err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate snippet: %w", err)
	}

	a.logger.DebugContext(ctx, "transform evaluated", "result_type", fmt.Sprintf("%T", result))

	return toObject(result)
}

// normalize drops the return keyword opening the final statement, turning an
// explicit-return body into the equivalent expression. Text inside string
// literals is never touched.
func normalize(code string) string {
	code = strings.TrimSpace(code)
	start := finalStatement(code)

	rest, ok := strings.CutPrefix(strings.TrimLeftFunc(code[start:], unicode.IsSpace), "return")
	if !ok || rest == "" || !startsExpression(rest[0]) {
		return code
	}

	return strings.TrimSpace(code[:start] + " " + strings.TrimLeftFunc(rest, unicode.IsSpace))
}

// finalStatement returns the offset where the last non-empty statement of code
// begins, skipping semicolons that appear inside string literals.
func finalStatement(code string) int {
	start := 0

	var quote byte

	for i := 0; i < len(code); i++ {
		c := code[i]

		switch {
		case quote != 0:
			if c == '\\' && quote != '`' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == ';' && strings.TrimSpace(code[i+1:]) != "":
			start = i + 1
		}
	}

	return start
}

func startsExpression(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '{' || c == '(' || c == '['
}

// cloneContext deep-copies the context through JSON so the snippet can never
// reach the caller's maps.
func cloneContext(execCtx map[string]any) (map[string]any, error) {
	env := map[string]any{}
	if execCtx == nil {
		return env, nil
	}

	encoded, err := json.Marshal(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to clone context: %w", err)
	}

	err = json.Unmarshal(encoded, &env)
	if err != nil {
		return nil, fmt.Errorf("failed to clone context: %w", err)
	}

	return env, nil
}

// toObject accepts nil or a JSON object and returns its round-tripped copy.
func toObject(result any) (map[string]any, error) {
	if result == nil {
		return nil, nil
	}

	if _, ok := result.(map[string]any); !ok {
		return nil, fmt.Errorf("%w, got %T", ErrResultNotObject, result)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultNotJSONish, err)
	}

	var object map[string]any

	err = json.Unmarshal(encoded, &object)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultNotJSONish, err)
	}

	return object, nil
}
