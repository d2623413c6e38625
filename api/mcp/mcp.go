// Package mcp provides an MCP (Model Context Protocol) server exposing the
// attention ledger to agents.
package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/utils"
)

// Selector allocates the budget.
type Selector interface {
	Select(ctx context.Context, name string) ([]budget.Selection, error)
}

type Config struct {
	// Ledger reads balances and entries
	Ledger inspect.Ledger

	// Entities resolves registry records
	Entities inspect.Entities

	// Runs reads pipeline run records
	Runs inspect.Runs

	// Selector for the select tool (optional)
	Selector Selector

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the ledger tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "attend",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Ledger == nil {
			return nil, errors.New("ledger is required")
		}
		if c.Entities == nil {
			return nil, errors.New("entity registry is required")
		}
		if c.Runs == nil {
			return nil, errors.New("run store is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        balanceToolName,
			Description: balanceDescription,
		}, s.handleBalance)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        ledgerToolName,
			Description: ledgerDescription,
		}, s.handleLedger)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        runsToolName,
			Description: runsDescription,
		}, s.handleRuns)

		if c.Selector != nil {
			mcp.AddTool(mcpServer, &mcp.Tool{
				Name:        selectToolName,
				Description: selectDescription,
			}, s.handleSelect)
		}
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
