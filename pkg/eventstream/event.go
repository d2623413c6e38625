package eventstream

import (
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRunCompleted is emitted after a pipeline run reaches a
	// terminal status.
	EventTypeRunCompleted = "attend.run.completed"

	// EventTypeArtifactEmitted is emitted for every artifact a run hands
	// to the artifact sink.
	EventTypeArtifactEmitted = "attend.artifact.emitted"
)

// RunCompletedEvent is a transport-neutral event payload for a finished run.
type RunCompletedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	Run           RunMeta   `json:"run"`
}

// RunMeta captures the auditable summary of a run.
type RunMeta struct {
	ID          string    `json:"id"`
	Pipeline    string    `json:"pipeline"`
	ContentHash string    `json:"content_hash"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Matched     int       `json:"matched"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Artifacts   int       `json:"artifacts"`
	Tokens      int64     `json:"tokens"`
	Spent       float64   `json:"spent"`
	Retained    float64   `json:"retained"`
}

// ArtifactEmittedEvent is a transport-neutral event payload for one artifact.
type ArtifactEmittedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Artifact      ArtifactMeta `json:"artifact"`
}

// ArtifactMeta identifies an artifact and the run that produced it.
type ArtifactMeta struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Pipeline    string         `json:"pipeline"`
	ContentHash string         `json:"content_hash"`
	Target      string         `json:"target"`
	Kind        string         `json:"kind"`
	Data        map[string]any `json:"data,omitempty"`
}
