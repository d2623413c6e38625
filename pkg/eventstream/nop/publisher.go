package nop

import (
	"context"

	"github.com/papercomputeco/attend/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishRun validates input and otherwise does nothing.
func (p *Publisher) PublishRun(_ context.Context, event *eventstream.RunCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilRunEvent
	}

	return nil
}

// PublishArtifact validates input and otherwise does nothing.
func (p *Publisher) PublishArtifact(_ context.Context, event *eventstream.ArtifactEmittedEvent) error {
	if event == nil {
		return eventstream.ErrNilArtifactEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
