package pipeline

import (
	"context"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusDry     Status = "dry"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed, StatusDry:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// deriveStatus maps target outcomes onto a terminal status.
func deriveStatus(processed, skipped, artifacts int) Status {
	switch {
	case processed > 0 && skipped > 0:
		return StatusPartial
	case skipped > 0:
		return StatusFailed
	case artifacts == 0:
		return StatusDry
	default:
		return StatusSuccess
	}
}

// RunError is one per-target failure.
type RunError struct {
	Target  string `json:"target"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

// Usage is the resource accounting of a run.
type Usage struct {
	Tokens     int64   `json:"tokens"`
	Spent      float64 `json:"spent"`
	Retained   float64 `json:"retained"`
	DurationMs int64   `json:"duration_ms"`
}

// RunRecord is the durable audit record of one pipeline run.
type RunRecord struct {
	ID          string     `json:"id"`
	Pipeline    string     `json:"pipeline"`
	ContentHash string     `json:"content_hash"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      Status     `json:"status"`
	Matched     int        `json:"matched"`
	Processed   int        `json:"processed"`
	Skipped     int        `json:"skipped"`
	Artifacts   int        `json:"artifacts"`
	Errors      []RunError `json:"errors,omitempty"`
	Usage       Usage      `json:"usage"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Pipeline string
	Status   Status
	Limit    int
}

// RunStore persists run records.
type RunStore interface {
	// CreateRun inserts a new record.
	CreateRun(ctx context.Context, run *RunRecord) error

	// FinishRun writes the terminal state of a record. It only updates a
	// record that is still running and returns false otherwise, so the
	// terminal transition happens exactly once.
	FinishRun(ctx context.Context, run *RunRecord) (bool, error)

	// GetRun returns a record by id or a not-found error.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns matching records, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
}
