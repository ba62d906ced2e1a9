// Package config loads declarative pipeline definitions: named steps with
// entry criteria, blocking conditions, and retry policies, plus the runtime
// state their checks evaluate against.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Promptonauts/gate/pkg/gate"
	"github.com/Promptonauts/gate/pkg/models"
)

func Load(path string) (*models.PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline file %s: %w", path, err)
	}
	return spec, nil
}

func Parse(data []byte) (*models.PipelineSpec, error) {
	var spec models.PipelineSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func Validate(spec *models.PipelineSpec) error {
	if len(spec.Steps) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	switch spec.OnFailure {
	case "", models.OnFailureAbort, models.OnFailureContinue:
	default:
		return fmt.Errorf("onFailure %q, want %q or %q", spec.OnFailure, models.OnFailureAbort, models.OnFailureContinue)
	}
	if err := validateRetry(spec.Defaults.Retry, "defaults"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(spec.Steps))
	for i, step := range spec.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true

		if err := validateChecks(step.Entry, step.Name, false); err != nil {
			return err
		}
		if err := validateChecks(step.Blocking, step.Name, true); err != nil {
			return err
		}
		if err := validateRetry(step.Retry, step.Name); err != nil {
			return err
		}
		if step.Timeout != "" {
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				return fmt.Errorf("step %q: invalid timeout %q", step.Name, step.Timeout)
			}
		}
	}
	return nil
}

func validateChecks(checks []models.CheckSpec, step string, blocking bool) error {
	names := make(map[string]bool, len(checks))
	for _, c := range checks {
		if c.Name == "" {
			return fmt.Errorf("step %q: check has no name", step)
		}
		if names[c.Name] {
			return fmt.Errorf("step %q: duplicate check name %q", step, c.Name)
		}
		names[c.Name] = true
		if c.Kind == "" {
			return fmt.Errorf("step %q: check %q has no kind", step, c.Name)
		}
		// Any active blocker skips the step; required would be meaningless
		// there and is almost certainly a misplaced entry check.
		if blocking && c.Required {
			return fmt.Errorf("step %q: blocking check %q must not set required", step, c.Name)
		}
	}
	return nil
}

func validateRetry(spec *models.RetrySpec, scope string) error {
	if spec == nil {
		return nil
	}
	if err := gate.PolicyFromSpec(spec).Validate(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}
	return nil
}

// StepPolicy resolves the effective retry policy for a step: the step's own
// spec, else the pipeline default, else the built-in default.
func StepPolicy(spec *models.PipelineSpec, step models.StepSpec) gate.RetryPolicy {
	if step.Retry != nil {
		return gate.PolicyFromSpec(step.Retry)
	}
	return gate.PolicyFromSpec(spec.Defaults.Retry)
}
