// Package pipeline runs the steps of a declarative pipeline sequentially,
// gating each one through the evaluator and persisting results and events.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Promptonauts/gate/pkg/config"
	"github.com/Promptonauts/gate/pkg/gate"
	"github.com/Promptonauts/gate/pkg/models"
	"github.com/Promptonauts/gate/pkg/observability"
	"github.com/Promptonauts/gate/pkg/store"
)

type Runner struct {
	store    store.Store
	registry *config.Registry
	metrics  *observability.MetricsRegistry
	logger   *slog.Logger
	bodies   map[string]gate.Body
}

// NewRunner builds a runner. store may be nil for in-memory runs; registry,
// metrics, and logger fall back to sensible defaults when nil.
func NewRunner(st store.Store, registry *config.Registry, metrics *observability.MetricsRegistry, logger *slog.Logger) *Runner {
	if registry == nil {
		registry = config.NewRegistry()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    st,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		bodies:   make(map[string]gate.Body),
	}
}

// RegisterBody binds a programmatic body to a step name. It takes
// precedence over the step's run command.
func (r *Runner) RegisterBody(step string, body gate.Body) {
	r.bodies[step] = body
}

func (r *Runner) Metrics() *observability.MetricsRegistry {
	return r.metrics
}

type RunReport struct {
	RunID      string               `json:"runId"`
	Pipeline   string               `json:"pipeline"`
	Results    []*models.StepRecord `json:"results"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
	Aborted    bool                 `json:"aborted,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Run evaluates every step of the pipeline in order. Step failures land in
// the report, not the error; the error is reserved for persistence faults.
// With onFailure=abort (the default) a Failed step ends the run and later
// steps are left unevaluated. Skipped steps never abort.
func (r *Runner) Run(ctx context.Context, name string, spec *models.PipelineSpec, state config.State) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Pipeline:  name,
		StartedAt: time.Now().UTC(),
	}
	abortOnFailure := spec.OnFailure != models.OnFailureContinue

	for _, step := range spec.Steps {
		rec, err := r.runStep(ctx, report.RunID, name, spec, step, state)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, rec)

		switch rec.Status {
		case models.StepSuccess:
			report.Succeeded++
		case models.StepSkipped:
			report.Skipped++
		case models.StepFailed:
			report.Failed++
		}
		if rec.Status == models.StepFailed && abortOnFailure {
			report.Aborted = true
			break
		}
	}

	report.FinishedAt = time.Now().UTC()
	r.logger.Info("pipeline finished",
		"pipeline", name,
		"runId", report.RunID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"aborted", report.Aborted)
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, runID, pipeline string, spec *models.PipelineSpec, step models.StepSpec, state config.State) (*models.StepRecord, error) {
	rec := &models.StepRecord{
		RunID:    runID,
		Pipeline: pipeline,
		StepName: step.Name,
		Status:   models.StepPending,
	}
	if r.store != nil {
		if err := r.store.CreateStepResult(rec); err != nil {
			return nil, err
		}
	}

	entry := r.registry.BuildAll(step.Entry, state)
	blocking := r.registry.BuildAll(step.Blocking, state)
	body := r.resolveBody(step)
	policy := config.StepPolicy(spec, step)

	now := time.Now().UTC()
	rec.Status = models.StepRunning
	rec.StartedAt = &now
	if r.store != nil {
		if err := r.store.UpdateStepResult(rec); err != nil {
			return nil, err
		}
	}

	emitter := gate.MultiEmitter{
		observability.NewMetricsEmitter(r.metrics),
		observability.NewLogEmitter(r.logger),
	}
	if r.store != nil {
		emitter = append(emitter, &storeEmitter{store: r.store, record: rec})
	}

	res := gate.New(emitter).RunStep(ctx, step.Name, entry, blocking, body, policy)

	finished := time.Now().UTC()
	rec.Status = res.Status
	rec.Attempts = res.Attempts
	rec.Cause = string(res.Cause)
	rec.Check = res.Check
	rec.LastError = res.LastError
	rec.Metrics = res.Metrics
	rec.DurationMs = int64(res.Metrics["duration_ms"])
	rec.FinishedAt = &finished
	if r.store != nil {
		if err := r.store.UpdateStepResult(rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *Runner) resolveBody(step models.StepSpec) gate.Body {
	if body, ok := r.bodies[step.Name]; ok {
		return body
	}
	if step.Run != "" {
		return commandBody(step.Run, step.Timeout)
	}
	// No body: the step is a pure go/no-go decision.
	return nil
}

// storeEmitter persists evaluator events against the step's record and
// marks the record Retrying while it waits out a backoff.
type storeEmitter struct {
	store  store.Store
	record *models.StepRecord
}

func (s *storeEmitter) RetryScheduled(step string, attempt int, delay time.Duration) {
	s.record.Status = models.StepRetrying
	_ = s.store.UpdateStepResult(s.record)
	_ = s.store.AppendStepEvent(models.StepEvent{
		ResultID:  s.record.ID,
		Type:      models.EventRetryScheduled,
		Attempt:   attempt,
		DelayMs:   delay.Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *storeEmitter) StepFinished(step string, status models.StepStatus, attempts int) {
	_ = s.store.AppendStepEvent(models.StepEvent{
		ResultID:  s.record.ID,
		Type:      models.EventStepFinished,
		Attempt:   attempts,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}
