package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Promptonauts/gate/pkg/config"
	"github.com/Promptonauts/gate/pkg/gate"
	"github.com/Promptonauts/gate/pkg/models"
	"github.com/Promptonauts/gate/pkg/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fastRetry(attempts int) *models.RetrySpec {
	return &models.RetrySpec{MaxAttempts: attempts, BackoffBaseMs: 1, BackoffMultiplier: 1}
}

func TestRunPersistsRecords(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil, nil, nil)

	spec := &models.PipelineSpec{
		Defaults: models.PipelineDefaults{Retry: fastRetry(1)},
		Steps: []models.StepSpec{
			{
				Name: "load_orders",
				Entry: []models.CheckSpec{{
					Name: "rowcount", Kind: config.KindThreshold, Required: true,
					Params: map[string]any{"key": "rowcount", "op": "gt", "value": 0},
				}},
			},
			{
				Name: "publish",
				Blocking: []models.CheckSpec{{
					Name: "maintenance", Kind: config.KindFlag,
					Params: map[string]any{"key": "maintenance"},
				}},
			},
		},
	}
	state := config.State{"rowcount": 10, "maintenance": true}

	report, err := r.Run(context.Background(), "nightly", spec, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Aborted {
		t.Fatal("skip must not abort the run")
	}

	records, err := st.ListStepResults("nightly", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("persisted records = %d, want 2", len(records))
	}
	for _, rec := range records {
		if !rec.Status.Terminal() {
			t.Fatalf("record %s left in %s", rec.StepName, rec.Status)
		}
		if rec.RunID != report.RunID {
			t.Fatalf("record runId = %q, want %q", rec.RunID, report.RunID)
		}
	}
}

func TestRunAbortsOnFailure(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	r.RegisterBody("broken", func(context.Context) error { return errors.New("boom") })
	var laterRan bool
	r.RegisterBody("later", func(context.Context) error { laterRan = true; return nil })

	spec := &models.PipelineSpec{
		Defaults: models.PipelineDefaults{Retry: fastRetry(2)},
		Steps:    []models.StepSpec{{Name: "broken"}, {Name: "later"}},
	}

	report, err := r.Run(context.Background(), "p", spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Aborted || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(report.Results))
	}
	if laterRan {
		t.Fatal("step after abort was executed")
	}
	if report.Results[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", report.Results[0].Attempts)
	}
}

func TestRunContinuesPastFailure(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	r.RegisterBody("broken", func(context.Context) error { return errors.New("boom") })

	spec := &models.PipelineSpec{
		OnFailure: models.OnFailureContinue,
		Defaults:  models.PipelineDefaults{Retry: fastRetry(1)},
		Steps:     []models.StepSpec{{Name: "broken"}, {Name: "fine"}},
	}

	report, err := r.Run(context.Background(), "p", spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Aborted || report.Failed != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRegisteredBodyBeatsRunCommand(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	var ran bool
	r.RegisterBody("step", func(context.Context) error { ran = true; return nil })

	spec := &models.PipelineSpec{
		Defaults: models.PipelineDefaults{Retry: fastRetry(1)},
		Steps:    []models.StepSpec{{Name: "step", Run: "exit 1"}},
	}

	report, err := r.Run(context.Background(), "p", spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ran || report.Succeeded != 1 {
		t.Fatalf("ran=%v report=%+v", ran, report)
	}
}

func TestCommandBody(t *testing.T) {
	if err := commandBody("true", "")(context.Background()); err != nil {
		t.Fatalf("true: %v", err)
	}
	if err := commandBody("echo broken >&2; exit 3", "")(context.Background()); err == nil {
		t.Fatal("exit 3 must error")
	}
	if err := commandBody("sleep 5", "50ms")(context.Background()); err == nil {
		t.Fatal("timeout must error")
	}
}

func TestRunPersistsRetryEvents(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil, nil, nil)

	var calls int
	r.RegisterBody("flaky", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	spec := &models.PipelineSpec{
		Defaults: models.PipelineDefaults{Retry: fastRetry(3)},
		Steps:    []models.StepSpec{{Name: "flaky"}},
	}

	report, err := r.Run(context.Background(), "p", spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := report.Results[0]
	if rec.Status != models.StepSuccess || rec.Attempts != 2 {
		t.Fatalf("record = %+v", rec)
	}

	events, err := st.GetStepEvents(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want retry_scheduled + step_finished", len(events))
	}
	if events[0].Type != models.EventRetryScheduled || events[0].Attempt != 1 {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != models.EventStepFinished || events[1].Status != models.StepSuccess {
		t.Fatalf("second event = %+v", events[1])
	}
}

func TestRunCountsMetrics(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	r.RegisterBody("broken", func(context.Context) error { return errors.New("boom") })

	spec := &models.PipelineSpec{
		OnFailure: models.OnFailureContinue,
		Defaults:  models.PipelineDefaults{Retry: fastRetry(2)},
		Steps:     []models.StepSpec{{Name: "ok"}, {Name: "broken"}},
	}

	if _, err := r.Run(context.Background(), "p", spec, nil); err != nil {
		t.Fatal(err)
	}

	reg := r.Metrics()
	if got := reg.Counter("step.success").Value(); got != 1 {
		t.Fatalf("step.success = %d", got)
	}
	if got := reg.Counter("step.failed").Value(); got != 1 {
		t.Fatalf("step.failed = %d", got)
	}
	if got := reg.Counter("retry.scheduled").Value(); got != 1 {
		t.Fatalf("retry.scheduled = %d", got)
	}
}

func TestGateOnlyStepUsesNilBody(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	spec := &models.PipelineSpec{
		Defaults: models.PipelineDefaults{Retry: fastRetry(1)},
		Steps:    []models.StepSpec{{Name: "decision"}},
	}
	report, err := r.Run(context.Background(), "p", spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Results[0].Status != models.StepSuccess {
		t.Fatalf("gate-only step = %+v", report.Results[0])
	}
}

var _ gate.Emitter = (*storeEmitter)(nil)
