// Package api provides the HTTP API for ingesting activity into the
// attention ledger and inspecting balances, selections and runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

// Ledger is the slice of the attention ledger the API writes and reads.
type Ledger interface {
	inspect.Ledger
	Earn(ctx context.Context, key entity.Key, amount float64, reason, token string) error
	Record(ctx context.Context, a ledger.Activity) error
}

// Entities is the entity registry.
type Entities interface {
	inspect.Entities
	List() []*entity.Entity
}

// Selector allocates the budget.
type Selector interface {
	Select(ctx context.Context, name string) ([]budget.Selection, error)
}

// Scheduler runs pipelines on demand and reports the loaded set.
type Scheduler interface {
	Trigger(ctx context.Context, name string) (*pipeline.RunRecord, error)
	Pipelines() []*pipeline.Pipeline
	LastRun(name string) time.Time
}

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	Ledger   Ledger
	Entities Entities
	Selector Selector
	Runs     inspect.Runs

	// Scheduler is optional. Without it the pipeline endpoints answer 503.
	Scheduler Scheduler

	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler
}
