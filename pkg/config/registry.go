package config

import (
	"fmt"

	"github.com/Promptonauts/gate/pkg/gate"
	"github.com/Promptonauts/gate/pkg/models"
)

// Builder turns a declarative check spec into an executable check bound to
// the given state.
type Builder func(spec models.CheckSpec, state State) gate.Check

// Registry maps check kinds to builders. Unknown kinds go to the fallback
// builder, which by default produces a check that errors — a typo'd kind
// must fail the step, not open the gate.
type Registry struct {
	builders map[string]Builder
	fallback Builder
}

func NewRegistry() *Registry {
	r := &Registry{
		builders: make(map[string]Builder),
		fallback: unknownKindBuilder,
	}
	r.Register(KindFlag, buildFlagCheck)
	r.Register(KindThreshold, buildThresholdCheck)
	return r
}

const (
	KindFlag      = "flag"
	KindThreshold = "threshold"
)

func (r *Registry) Register(kind string, b Builder) {
	r.builders[kind] = b
}

func (r *Registry) SetFallback(b Builder) {
	if b != nil {
		r.fallback = b
	}
}

func (r *Registry) Known(kind string) bool {
	_, ok := r.builders[kind]
	return ok
}

func (r *Registry) Build(spec models.CheckSpec, state State) gate.Check {
	b, ok := r.builders[spec.Kind]
	if !ok {
		b = r.fallback
	}
	return b(spec, state)
}

func (r *Registry) BuildAll(specs []models.CheckSpec, state State) []gate.Check {
	checks := make([]gate.Check, 0, len(specs))
	for _, spec := range specs {
		checks = append(checks, r.Build(spec, state))
	}
	return checks
}

func unknownKindBuilder(spec models.CheckSpec, _ State) gate.Check {
	return gate.Check{
		Name:     spec.Name,
		Required: spec.Required,
		Predicate: func() (bool, error) {
			return false, fmt.Errorf("check %q: unknown kind %q", spec.Name, spec.Kind)
		},
	}
}

// buildFlagCheck reads a boolean state key. Params: key (defaults to the
// check name), negate.
func buildFlagCheck(spec models.CheckSpec, state State) gate.Check {
	key := stringParam(spec.Params, "key", spec.Name)
	negate := boolParam(spec.Params, "negate")
	return gate.Check{
		Name:     spec.Name,
		Required: spec.Required,
		Predicate: func() (bool, error) {
			v, err := state.Bool(key)
			if err != nil {
				return false, fmt.Errorf("check %q: %w", spec.Name, err)
			}
			if negate {
				v = !v
			}
			return v, nil
		},
	}
}

// buildThresholdCheck compares a numeric state key against a literal.
// Params: key, op (gt|ge|lt|le|eq|ne), value.
func buildThresholdCheck(spec models.CheckSpec, state State) gate.Check {
	key := stringParam(spec.Params, "key", spec.Name)
	op := stringParam(spec.Params, "op", "")
	threshold, haveValue := floatParam(spec.Params, "value")
	cmp, knownOp := comparators[op]

	return gate.Check{
		Name:     spec.Name,
		Required: spec.Required,
		Predicate: func() (bool, error) {
			if !knownOp {
				return false, fmt.Errorf("check %q: unknown op %q", spec.Name, op)
			}
			if !haveValue {
				return false, fmt.Errorf("check %q: missing numeric param %q", spec.Name, "value")
			}
			v, err := state.Float(key)
			if err != nil {
				return false, fmt.Errorf("check %q: %w", spec.Name, err)
			}
			return cmp(v, threshold), nil
		},
	}
}

var comparators = map[string]func(a, b float64) bool{
	"gt": func(a, b float64) bool { return a > b },
	"ge": func(a, b float64) bool { return a >= b },
	"lt": func(a, b float64) bool { return a < b },
	"le": func(a, b float64) bool { return a <= b },
	"eq": func(a, b float64) bool { return a == b },
	"ne": func(a, b float64) bool { return a != b },
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}
