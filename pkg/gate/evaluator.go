// Package gate decides whether a pipeline step runs and drives its retry
// loop. A step is gated by ordered entry criteria (all required ones must
// pass) and blocking conditions (any active one skips the step); the body
// then runs under a bounded backoff retry policy. Every outcome is returned
// as a completed Result — nothing escapes as an error or panic.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/Promptonauts/gate/pkg/models"
)

// Cause explains a terminal Skipped or Failed status.
type Cause string

const (
	CauseEntryCriteriaNotMet     Cause = "EntryCriteriaNotMet"
	CauseBlockingConditionActive Cause = "BlockingConditionActive"
	CauseCheckEvaluationError    Cause = "CheckEvaluationError"
	CauseRetryBudgetExhausted    Cause = "RetryBudgetExhausted"
)

// Result is the terminal outcome of one step evaluation. It is not
// modified after RunStep returns.
type Result struct {
	Status    models.StepStatus
	Attempts  int
	Cause     Cause
	Check     string
	LastError string
	Metrics   map[string]float64
}

// Body is the unit of work a step performs once its gate opens.
type Body func(context.Context) error

// Evaluator runs step gates. The zero value is not usable; construct with
// New.
type Evaluator struct {
	emitter Emitter

	// sleep is the backoff wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(emitter Emitter) *Evaluator {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Evaluator{
		emitter: emitter,
		sleep:   sleepCtx,
	}
}

// RunStep gates and executes one step:
//
//  1. Entry criteria not met → Skipped, zero attempts, body never invoked.
//  2. Any blocking condition active → Skipped, zero attempts.
//  3. Otherwise the body runs up to policy.MaxAttempts times with
//     exponential backoff between failures.
//
// A predicate that errors marks the step Failed without invoking the body;
// gates are evaluated once, so retrying the predicate cannot change it.
// Context cancellation during a backoff wait stops retrying and the step
// fails with the last body error.
func (e *Evaluator) RunStep(ctx context.Context, step string, entry, blocking []Check, body Body, policy RetryPolicy) *Result {
	policy = policy.sanitized()
	start := time.Now()
	res := &Result{Metrics: make(map[string]float64)}

	defer func() {
		res.Metrics["attempts"] = float64(res.Attempts)
		res.Metrics["duration_ms"] = float64(time.Since(start).Milliseconds())
		e.emitter.StepFinished(step, res.Status, res.Attempts)
	}()

	ok, check, err := EvaluateEntry(entry, res.Metrics)
	if err != nil {
		return res.fail(CauseCheckEvaluationError, check, err)
	}
	if !ok {
		return res.skip(CauseEntryCriteriaNotMet, check)
	}

	blocked, check, err := EvaluateBlocking(blocking, res.Metrics)
	if err != nil {
		return res.fail(CauseCheckEvaluationError, check, err)
	}
	if blocked {
		return res.skip(CauseBlockingConditionActive, check)
	}

	if body == nil {
		body = func(context.Context) error { return nil }
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		err := body(ctx)
		if err == nil {
			res.Status = models.StepSuccess
			return res
		}
		if attempt >= policy.MaxAttempts {
			return res.fail(CauseRetryBudgetExhausted, "", err)
		}
		delay := policy.Delay(attempt)
		e.emitter.RetryScheduled(step, attempt, delay)
		if e.sleep(ctx, delay) != nil {
			return res.fail(CauseRetryBudgetExhausted, "", err)
		}
	}
}

func (r *Result) skip(cause Cause, check string) *Result {
	r.Status = models.StepSkipped
	r.Cause = cause
	r.Check = check
	r.Attempts = 0
	return r
}

func (r *Result) fail(cause Cause, check string, err error) *Result {
	r.Status = models.StepFailed
	r.Cause = cause
	r.Check = check
	if err != nil {
		r.LastError = err.Error()
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errNilPredicate(name string) error {
	return fmt.Errorf("check %q has no predicate", name)
}
