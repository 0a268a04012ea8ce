package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// FilterCompiler turns CEL expressions into event predicates.
//
// Expressions see:
//
//	name        string  event name
//	scope       string  scope key
//	id          string  event id
//	occurred_at int     unix milliseconds
//	payload     dyn     payload as decoded JSON
//	now_ms      int     evaluation time, unix milliseconds
//
// e.g. `name == "message.created" && payload.chat_id == "c1"`.
type FilterCompiler struct {
	env *cel.Env
	// [MEMORY_MANAGEMENT] many clients subscribe with identical expressions
	programs *lru.Cache[string, cel.Program]
}

func NewFilterCompiler(cacheSize int) (*FilterCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("scope", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("occurred_at", cel.IntType),
		cel.Variable("payload", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter env: %w", err)
	}

	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("filter cache: %w", err)
	}
	return &FilterCompiler{env: env, programs: programs}, nil
}

// Compile returns nil for an empty expression.
func (c *FilterCompiler) Compile(expr string) (stream.Predicate[event.Event], error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	prog, ok := c.programs.Get(expr)
	if !ok {
		var err error
		if prog, err = c.build(expr); err != nil {
			return nil, err
		}
		c.programs.Add(expr, prog)
	}

	return func(_ context.Context, ev event.Event) (bool, error) {
		return eval(prog, ev)
	}, nil
}

func (c *FilterCompiler) build(expr string) (cel.Program, error) {
	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidRequest, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: filter must be a boolean expression, got %s", ErrInvalidRequest, ast.OutputType())
	}
	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidRequest, err)
	}
	return prog, nil
}

// eval treats a runtime error (e.g. a missing payload field) as "no match":
// one odd event must not kill the subscription.
func eval(prog cel.Program, ev event.Event) (bool, error) {
	out, _, err := prog.Eval(map[string]any{
		"name":        ev.GetName(),
		"scope":       ev.GetScopeKey(),
		"id":          ev.GetID(),
		"occurred_at": ev.GetOccurredAt(),
		"payload":     plainPayload(ev.GetPayload()),
		"now_ms":      time.Now().UnixMilli(),
	})
	if err != nil {
		return false, nil
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// plainPayload converts arbitrary payloads into the map/list/scalar shape CEL
// understands by going through JSON.
func plainPayload(payload any) any {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		var err error
		if raw, err = json.Marshal(p); err != nil {
			return nil
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
