package observability

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Promptonauts/gate/pkg/models"
)

// MetricsEmitter counts step outcomes and retry events in a registry.
// Counter names: step.success, step.failed, step.skipped, retry.scheduled.
// Histograms: retry.delay_ms, step.attempts.
type MetricsEmitter struct {
	registry *MetricsRegistry
}

func NewMetricsEmitter(registry *MetricsRegistry) *MetricsEmitter {
	return &MetricsEmitter{registry: registry}
}

func (m *MetricsEmitter) RetryScheduled(step string, attempt int, delay time.Duration) {
	m.registry.Counter("retry.scheduled").Inc()
	m.registry.Histogram("retry.delay_ms").Observe(float64(delay.Milliseconds()))
}

func (m *MetricsEmitter) StepFinished(step string, status models.StepStatus, attempts int) {
	m.registry.Counter("step." + strings.ToLower(string(status))).Inc()
	m.registry.Histogram("step.attempts").Observe(float64(attempts))
}

// LogEmitter writes the evaluator's events through slog.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) RetryScheduled(step string, attempt int, delay time.Duration) {
	l.logger.Info(models.EventRetryScheduled,
		"step", step, "attempt", attempt, "delayMs", delay.Milliseconds())
}

func (l *LogEmitter) StepFinished(step string, status models.StepStatus, attempts int) {
	l.logger.Info(models.EventStepFinished,
		"step", step, "status", string(status), "attempts", attempts)
}
