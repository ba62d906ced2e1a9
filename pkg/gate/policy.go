package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/Promptonauts/gate/pkg/models"
)

// RetryPolicy bounds the attempt loop of a step.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       250 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// PolicyFromSpec converts the wire form into a policy. A nil spec yields
// the default policy.
func PolicyFromSpec(spec *models.RetrySpec) RetryPolicy {
	if spec == nil {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		MaxAttempts:       spec.MaxAttempts,
		BackoffBase:       time.Duration(spec.BackoffBaseMs) * time.Millisecond,
		BackoffMultiplier: spec.BackoffMultiplier,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("retry policy: backoff base must be >= 0, got %s", p.BackoffBase)
	}
	if p.BackoffMultiplier < 1.0 {
		return fmt.Errorf("retry policy: backoff multiplier must be >= 1.0, got %g", p.BackoffMultiplier)
	}
	return nil
}

// Delay returns the backoff before the retry following the given attempt
// (attempts count from 1): base * multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BackoffBase) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p RetryPolicy) sanitized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase < 0 {
		p.BackoffBase = 0
	}
	if p.BackoffMultiplier < 1.0 {
		p.BackoffMultiplier = 1.0
	}
	return p
}
