package models

import "time"

type StepStatus string

const (
	StepPending  StepStatus = "Pending"
	StepRunning  StepStatus = "Running"
	StepRetrying StepStatus = "Retrying"
	StepSuccess  StepStatus = "Success"
	StepFailed   StepStatus = "Failed"
	StepSkipped  StepStatus = "Skipped"
)

// Terminal reports whether a status can no longer change.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepSkipped:
		return true
	}
	return false
}

type CheckSpec struct {
	Name     string         `yaml:"name" json:"name"`
	Kind     string         `yaml:"kind" json:"kind"`
	Required bool           `yaml:"required,omitempty" json:"required,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

type RetrySpec struct {
	MaxAttempts       int     `yaml:"maxAttempts" json:"maxAttempts"`
	BackoffBaseMs     int     `yaml:"backoffBaseMs" json:"backoffBaseMs"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier" json:"backoffMultiplier"`
}

type StepRecord struct {
	ID         string             `json:"id"`
	RunID      string             `json:"runId"`
	Pipeline   string             `json:"pipeline"`
	StepName   string             `json:"stepName"`
	Status     StepStatus         `json:"status"`
	Attempts   int                `json:"attempts"`
	Cause      string             `json:"cause,omitempty"`
	Check      string             `json:"check,omitempty"`
	LastError  string             `json:"lastError,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	DurationMs int64              `json:"durationMs"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
}

const (
	EventRetryScheduled = "retry_scheduled"
	EventStepFinished   = "step_finished"
)

type StepEvent struct {
	ResultID  string     `json:"resultId"`
	Type      string     `json:"type"`
	Attempt   int        `json:"attempt"`
	DelayMs   int64      `json:"delayMs,omitempty"`
	Status    StepStatus `json:"status,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
