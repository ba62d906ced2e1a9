package gate

import (
	"time"

	"github.com/Promptonauts/gate/pkg/models"
)

// Emitter receives the evaluator's observability events. Implementations
// must not block; the evaluator calls them inline.
type Emitter interface {
	RetryScheduled(step string, attempt int, delay time.Duration)
	StepFinished(step string, status models.StepStatus, attempts int)
}

type NopEmitter struct{}

func (NopEmitter) RetryScheduled(string, int, time.Duration)   {}
func (NopEmitter) StepFinished(string, models.StepStatus, int) {}

// MultiEmitter fans events out to every emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) RetryScheduled(step string, attempt int, delay time.Duration) {
	for _, e := range m {
		e.RetryScheduled(step, attempt, delay)
	}
}

func (m MultiEmitter) StepFinished(step string, status models.StepStatus, attempts int) {
	for _, e := range m {
		e.StepFinished(step, status, attempts)
	}
}
