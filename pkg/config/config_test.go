package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Promptonauts/gate/pkg/gate"
	"github.com/Promptonauts/gate/pkg/models"
)

const samplePipeline = `
description: nightly order load
defaults:
  retry:
    maxAttempts: 3
    backoffBaseMs: 200
    backoffMultiplier: 2.0
onFailure: abort
steps:
  - name: load_orders
    entry:
      - name: rowcount_positive
        kind: threshold
        required: true
        params: {key: rowcount, op: gt, value: 0}
      - name: slo_fresh
        kind: flag
        params: {key: slo_fresh}
    blocking:
      - name: maintenance_window
        kind: flag
        params: {key: maintenance_window_active}
    run: "true"
  - name: publish_report
    retry:
      maxAttempts: 1
      backoffBaseMs: 0
      backoffMultiplier: 1.0
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(spec.Steps))
	}
	step := spec.Steps[0]
	if len(step.Entry) != 2 || len(step.Blocking) != 1 {
		t.Fatalf("entry=%d blocking=%d", len(step.Entry), len(step.Blocking))
	}
	if !step.Entry[0].Required || step.Entry[1].Required {
		t.Fatal("required flags mismatched")
	}
	if spec.Defaults.Retry == nil || spec.Defaults.Retry.MaxAttempts != 3 {
		t.Fatalf("defaults.retry = %+v", spec.Defaults.Retry)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no steps", "description: empty\n", "no steps"},
		{"unknown field", "steps:\n  - name: a\n    nope: 1\n", "nope"},
		{"unnamed step", "steps:\n  - entry: []\n", "no name"},
		{"duplicate step", "steps:\n  - name: a\n  - name: a\n", "duplicate step"},
		{
			"required blocker",
			"steps:\n  - name: a\n    blocking:\n      - name: b\n        kind: flag\n        required: true\n",
			"must not set required",
		},
		{
			"check without kind",
			"steps:\n  - name: a\n    entry:\n      - name: b\n",
			"no kind",
		},
		{
			"bad retry",
			"steps:\n  - name: a\n    retry: {maxAttempts: 0, backoffBaseMs: 0, backoffMultiplier: 1}\n",
			"maxAttempts",
		},
		{
			"bad timeout",
			"steps:\n  - name: a\n    timeout: soon\n",
			"timeout",
		},
		{
			"bad onFailure",
			"onFailure: explode\nsteps:\n  - name: a\n",
			"onFailure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(samplePipeline), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Description != "nightly order load" {
		t.Fatalf("description = %q", spec.Description)
	}
}

func TestStepPolicy(t *testing.T) {
	spec, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}
	if got := StepPolicy(spec, spec.Steps[0]); got.MaxAttempts != 3 || got.BackoffBase != 200*time.Millisecond {
		t.Fatalf("default policy = %+v", got)
	}
	if got := StepPolicy(spec, spec.Steps[1]); got.MaxAttempts != 1 {
		t.Fatalf("override policy = %+v", got)
	}
}

func TestStateApplyAndLookups(t *testing.T) {
	s := State{}
	err := s.Apply([]string{"rowcount=1200", "maintenance_window_active=false", "env=prod"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if v, err := s.Float("rowcount"); err != nil || v != 1200 {
		t.Fatalf("Float(rowcount) = %v, %v", v, err)
	}
	if v, err := s.Bool("maintenance_window_active"); err != nil || v {
		t.Fatalf("Bool = %v, %v", v, err)
	}
	if _, err := s.Bool("missing"); err == nil {
		t.Fatal("missing key must error")
	}
	if _, err := s.Float("env"); err == nil {
		t.Fatal("string key must not read as number")
	}
	if err := s.Apply([]string{"noequals"}); err == nil {
		t.Fatal("bad override must error")
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	state := State{"rowcount": 42, "maintenance": true}

	check := r.Build(models.CheckSpec{
		Name: "rows", Kind: KindThreshold, Required: true,
		Params: map[string]any{"key": "rowcount", "op": "gt", "value": 0},
	}, state)
	ok, err := check.Predicate()
	if err != nil || !ok {
		t.Fatalf("threshold gt: ok=%v err=%v", ok, err)
	}

	check = r.Build(models.CheckSpec{
		Name: "quiet", Kind: KindFlag,
		Params: map[string]any{"key": "maintenance", "negate": true},
	}, state)
	ok, err = check.Predicate()
	if err != nil || ok {
		t.Fatalf("negated flag: ok=%v err=%v", ok, err)
	}
}

func TestThresholdOps(t *testing.T) {
	r := NewRegistry()
	state := State{"v": 10}
	tests := []struct {
		op   string
		want bool
	}{
		{"gt", false}, {"ge", true}, {"lt", false}, {"le", true}, {"eq", true}, {"ne", false},
	}
	for _, tt := range tests {
		check := r.Build(models.CheckSpec{
			Name: "v", Kind: KindThreshold,
			Params: map[string]any{"op": tt.op, "value": 10},
		}, state)
		ok, err := check.Predicate()
		if err != nil {
			t.Fatalf("op %s: %v", tt.op, err)
		}
		if ok != tt.want {
			t.Fatalf("op %s = %v, want %v", tt.op, ok, tt.want)
		}
	}
}

func TestThresholdErrors(t *testing.T) {
	r := NewRegistry()
	state := State{"v": 10}

	check := r.Build(models.CheckSpec{
		Name: "v", Kind: KindThreshold,
		Params: map[string]any{"op": "between", "value": 10},
	}, state)
	if _, err := check.Predicate(); err == nil {
		t.Fatal("unknown op must error")
	}

	check = r.Build(models.CheckSpec{
		Name: "v", Kind: KindThreshold,
		Params: map[string]any{"op": "gt"},
	}, state)
	if _, err := check.Predicate(); err == nil {
		t.Fatal("missing value must error")
	}
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	check := r.Build(models.CheckSpec{Name: "x", Kind: "regex"}, State{})
	if _, err := check.Predicate(); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("fallback predicate err = %v", err)
	}

	r.SetFallback(func(spec models.CheckSpec, _ State) gate.Check {
		return gate.Check{Name: spec.Name, Predicate: func() (bool, error) { return false, nil }}
	})
	check = r.Build(models.CheckSpec{Name: "x", Kind: "regex"}, State{})
	ok, err := check.Predicate()
	if err != nil || ok {
		t.Fatalf("replaced fallback: ok=%v err=%v", ok, err)
	}
}

func TestRegistryCustomKind(t *testing.T) {
	r := NewRegistry()
	r.Register("always", func(spec models.CheckSpec, _ State) gate.Check {
		return gate.Check{Name: spec.Name, Predicate: func() (bool, error) { return true, nil }}
	})
	if !r.Known("always") || r.Known("never") {
		t.Fatal("Known() mismatch")
	}
	ok, err := r.Build(models.CheckSpec{Name: "a", Kind: "always"}, nil).Predicate()
	if err != nil || !ok {
		t.Fatalf("custom kind: ok=%v err=%v", ok, err)
	}
}
