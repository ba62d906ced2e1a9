package store

import (
	"time"

	"github.com/Promptonauts/gate/pkg/models"
)

type Store interface {
	PutPipeline(name string, spec *models.PipelineSpec) error
	GetPipeline(name string) (*PipelineRecord, error)
	ListPipelines() ([]*PipelineRecord, error)
	DeletePipeline(name string) error

	CreateStepResult(rec *models.StepRecord) error
	UpdateStepResult(rec *models.StepRecord) error
	GetStepResult(id string) (*models.StepRecord, error)
	ListStepResults(pipeline string, limit int) ([]*models.StepRecord, error)
	AppendStepEvent(event models.StepEvent) error
	GetStepEvents(resultID string) ([]models.StepEvent, error)

	Watch() <-chan ResultEvent

	Migrate() error
	Close() error
}

type PipelineRecord struct {
	Name      string               `json:"name"`
	Spec      *models.PipelineSpec `json:"spec"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
)

type ResultEvent struct {
	Type   EventType          `json:"type"`
	Record *models.StepRecord `json:"record"`
}
