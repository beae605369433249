package api

// v0 contains public types shared between the CLI, the agent and SDK users.

import "time"

// CommandStatus is the lifecycle state of a dispatched remote command.
// Terminal states are final; there are no transitions out of them.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusInProgress CommandStatus = "in-progress"
	StatusSuccess    CommandStatus = "success"
	StatusFailed     CommandStatus = "failed"
	StatusTimedOut   CommandStatus = "timed-out"
)

// Terminal reports whether the status ends a command's lifecycle.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// StepResult is the outcome of a single step of a command script,
// recovered from the remote output markers.
type StepResult struct {
	Name   string        `json:"name" yaml:"name"`
	Status CommandStatus `json:"status" yaml:"status"`
}

// RunRecord describes one pipeline run as persisted in the history store.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// StageRecord describes one stage result within a run.
type StageRecord struct {
	RunID      string    `json:"run_id"`
	Ordinal    int       `json:"ordinal"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}
