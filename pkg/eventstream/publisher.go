package eventstream

import "context"

// Publisher publishes pipeline events to an event stream backend.
type Publisher interface {
	PublishRun(ctx context.Context, event *RunCompletedEvent) error
	PublishArtifact(ctx context.Context, event *ArtifactEmittedEvent) error
	Close() error
}
