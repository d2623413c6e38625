// Package nodes provides the built-in pipeline node types. The executor
// never depends on them directly; callers register them into a
// pipeline.Registry.
package nodes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const (
	TypeLedgerFetch = "ledger_fetch"
	TypeTransform   = "transform"
	TypeHTTPModel   = "http_model"
	TypeLLM         = "llm"
	TypePersist     = "persist"
)

// State keys written by the built-in nodes.
const (
	KeyBalance = "balance"
	KeyEntries = "entries"
	KeySummary = "summary"
	KeyOutput  = "model_output"
)

// History is the ledger read the ledger_fetch node needs.
type History interface {
	Balance(ctx context.Context, key entity.Key) (float64, error)
	History(ctx context.Context, key entity.Key, limit int) ([]*ledger.Entry, error)
}

// Deps are the collaborators shared by the built-in nodes.
type Deps struct {
	Ledger History

	// Keys resolves provider API keys for the llm node. Defaults to the
	// provider environment variables.
	Keys KeyResolver

	// HTTPClient is used by http_model and llm. Defaults to a client with a two
	// minute timeout.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Register adds every built-in node type to r.
func Register(r *pipeline.Registry, deps Deps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Keys == nil {
		deps.Keys = envKeys{}
	}

	r.Register(TypeLedgerFetch, func(params map[string]any) (pipeline.Node, error) {
		if deps.Ledger == nil {
			return nil, fmt.Errorf("%s needs a ledger", TypeLedgerFetch)
		}
		return newLedgerFetch(deps.Ledger, params)
	})
	r.Register(TypeTransform, newTransform)
	r.Register(TypeHTTPModel, func(params map[string]any) (pipeline.Node, error) {
		return newHTTPModel(deps.HTTPClient, deps.Logger, params)
	})
	r.Register(TypeLLM, func(params map[string]any) (pipeline.Node, error) {
		return newLLM(deps.HTTPClient, deps.Keys, params)
	})
	r.Register(TypePersist, newPersist)
}
