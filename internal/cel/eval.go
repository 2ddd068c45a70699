// Package cel compiles CEL expressions that select alerts, such as
//
//	severity == "critical" && metadata.backend == "bot-2"
//	!resolved && age < duration("1h")
package cel

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/gezibash/arc-botstore/internal/monitor"
)

// Filter is a compiled alert expression. It is safe for concurrent use.
type Filter struct {
	program cel.Program
	now     func() time.Time
}

func alertEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("resolved", cel.BoolType),
		cel.Variable("age", cel.DurationType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// Compile type-checks expr against the alert fields. The expression must
// yield a bool.
func Compile(expr string) (*Filter, error) {
	env, err := alertEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel compile: expression yields %s, want bool", ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return &Filter{program: prog, now: time.Now}, nil
}

// Match evaluates the filter for one alert. Evaluation errors, such as a
// missing metadata key, count as no match.
func (f *Filter) Match(a monitor.Alert) bool {
	md := a.Metadata
	if md == nil {
		md = map[string]string{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"id":       a.ID,
		"severity": string(a.Severity),
		"category": string(a.Category),
		"message":  a.Message,
		"resolved": a.Resolved,
		"age":      f.now().Sub(a.Timestamp),
		"metadata": md,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
