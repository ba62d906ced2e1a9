package models

type PipelineSpec struct {
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Defaults    PipelineDefaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Steps       []StepSpec       `yaml:"steps" json:"steps"`
	OnFailure   string           `yaml:"onFailure,omitempty" json:"onFailure,omitempty"`
}

type PipelineDefaults struct {
	Retry *RetrySpec `yaml:"retry,omitempty" json:"retry,omitempty"`
}

type StepSpec struct {
	Name     string      `yaml:"name" json:"name"`
	Entry    []CheckSpec `yaml:"entry,omitempty" json:"entry,omitempty"`
	Blocking []CheckSpec `yaml:"blocking,omitempty" json:"blocking,omitempty"`
	Run      string      `yaml:"run,omitempty" json:"run,omitempty"`
	Timeout  string      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry    *RetrySpec  `yaml:"retry,omitempty" json:"retry,omitempty"`
}

const (
	OnFailureAbort    = "abort"
	OnFailureContinue = "continue"
)
