// Package kafka publishes pipeline events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/eventstream"
)

const defaultWriteTimeout = 10 * time.Second

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config is the configuration for a Kafka publisher.
type Config struct {
	Brokers []string

	// RunTopic receives run completed events.
	RunTopic string

	// ArtifactTopic receives artifact events. Empty disables them.
	ArtifactTopic string

	// Writer overrides the Kafka writer, mostly for tests.
	Writer MessageWriter

	Logger *zap.Logger
}

// Publisher writes events as JSON messages keyed by pipeline name so all
// runs of one pipeline land on the same partition.
type Publisher struct {
	config Config
	writer MessageWriter
	logger *zap.Logger
}

// NewPublisher creates a Kafka publisher.
func NewPublisher(c Config) (*Publisher, error) {
	if c.RunTopic == "" {
		return nil, errors.New("kafka run topic is required")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	w := c.Writer
	if w == nil {
		if len(c.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		w = &kafkago.Writer{
			Addr:         kafkago.TCP(c.Brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			WriteTimeout: defaultWriteTimeout,
		}
	}

	return &Publisher{
		config: c,
		writer: w,
		logger: c.Logger,
	}, nil
}

// PublishRun writes a run completed event to the run topic.
func (p *Publisher) PublishRun(ctx context.Context, event *eventstream.RunCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilRunEvent
	}
	return p.write(ctx, p.config.RunTopic, event.Run.Pipeline, event)
}

// PublishArtifact writes an artifact event to the artifact topic, if one
// is configured.
func (p *Publisher) PublishArtifact(ctx context.Context, event *eventstream.ArtifactEmittedEvent) error {
	if event == nil {
		return eventstream.ErrNilArtifactEvent
	}
	if p.config.ArtifactTopic == "" {
		return nil
	}
	return p.write(ctx, p.config.ArtifactTopic, event.Artifact.Pipeline, event)
}

func (p *Publisher) write(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("writing to topic %s: %w", topic, err)
	}

	p.logger.Debug("event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
