// Package pipeline turns selected entities into auditable runs. A
// pipeline is an ordered list of nodes executed per target; every run is
// recorded with the content hash of the pipeline definition it ran.
package pipeline

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/papercomputeco/attend/pkg/entity"
)

// ErrInvalidPipeline is wrapped by every pipeline definition failure.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// hashEncMode encodes pipelines with Core Deterministic Encoding so the
// same definition always hashes to the same digest.
var hashEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	hashEncMode, err = opts.EncMode()
	if err != nil {
		panic("pipeline: CBOR encoder initialization failed: " + err.Error())
	}
}

// Pipeline is a declarative processing definition.
type Pipeline struct {
	Name     string          `toml:"name" json:"name" cbor:"name"`
	Category entity.Category `toml:"category" json:"category" cbor:"category"`

	// Schedule is the run interval as a Go duration ("6h"). Either
	// Schedule or Trigger must be set.
	Schedule string `toml:"schedule" json:"schedule,omitempty" cbor:"schedule"`

	// Trigger names the event that runs the pipeline on demand.
	Trigger string `toml:"trigger" json:"trigger,omitempty" cbor:"trigger"`

	Filter Filter `toml:"filter" json:"filter" cbor:"filter"`

	// MaxTargets caps the number of targets per run. 0 means no cap.
	MaxTargets int `toml:"max_targets" json:"max_targets" cbor:"max_targets"`

	// SpendPerToken converts model tokens into attention spent.
	SpendPerToken float64 `toml:"spend_per_token" json:"spend_per_token" cbor:"spend_per_token"`

	Nodes []NodeSpec `toml:"nodes" json:"nodes" cbor:"nodes"`
}

// Filter narrows the targets a pipeline accepts.
type Filter struct {
	MinBalance         float64 `toml:"min_balance" json:"min_balance" cbor:"min_balance"`
	IncludeProvisional bool    `toml:"include_provisional" json:"include_provisional" cbor:"include_provisional"`
}

// NodeSpec names a node type and its parameters.
type NodeSpec struct {
	Type   string         `toml:"type" json:"type" cbor:"type"`
	Params map[string]any `toml:"params" json:"params,omitempty" cbor:"params"`
}

// ContentHash returns the hex BLAKE3 digest of the pipeline's
// deterministic CBOR encoding. Any change to any field changes it.
func (p *Pipeline) ContentHash() (string, error) {
	data, err := hashEncMode.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding pipeline %s: %w", p.Name, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Interval parses Schedule. A trigger-only pipeline returns 0.
func (p *Pipeline) Interval() (time.Duration, error) {
	if p.Schedule == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Schedule)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: schedule %q: %w", ErrInvalidPipeline, p.Name, p.Schedule, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s: schedule must be positive", ErrInvalidPipeline, p.Name)
	}
	return d, nil
}

// Validate checks the definition against the known node types.
func (p *Pipeline) Validate(nodes *Registry) error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPipeline)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: %s: unknown category %q", ErrInvalidPipeline, p.Name, p.Category)
	}
	if p.Schedule == "" && p.Trigger == "" {
		return fmt.Errorf("%w: %s: needs a schedule or a trigger", ErrInvalidPipeline, p.Name)
	}
	if _, err := p.Interval(); err != nil {
		return err
	}
	if p.MaxTargets < 0 || p.SpendPerToken < 0 || p.Filter.MinBalance < 0 {
		return fmt.Errorf("%w: %s: negative limits", ErrInvalidPipeline, p.Name)
	}
	if len(p.Nodes) == 0 {
		return fmt.Errorf("%w: %s: no nodes", ErrInvalidPipeline, p.Name)
	}
	if nodes != nil {
		for _, spec := range p.Nodes {
			if !nodes.Has(spec.Type) {
				return fmt.Errorf("%w: %s: unknown node type %q", ErrInvalidPipeline, p.Name, spec.Type)
			}
		}
	}
	return nil
}
