package api

import (
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Server is the HTTP API server of the attention ledger.
type Server struct {
	config Config
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The ledger, registry and selector are injected so the scheduler shares
// the same instances.
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if config.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if config.Entities == nil {
		return nil, errors.New("entity registry is required")
	}
	if config.Selector == nil {
		return nil, errors.New("selector is required")
	}
	if config.Runs == nil {
		return nil, errors.New("run store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/earn", s.handleEarn)
	v1.Post("/activity", s.handleActivity)
	v1.Get("/entities", s.handleListEntities)
	v1.Get("/entities/:key/balance", s.handleBalance)
	v1.Get("/entities/:key/ledger", s.handleLedger)
	v1.Get("/select", s.handleSelect)
	v1.Get("/runs", s.handleListRuns)
	v1.Get("/runs/:id", s.handleGetRun)
	v1.Get("/pipelines", s.handleListPipelines)
	v1.Post("/pipelines/:name/trigger", s.handleTrigger)

	if config.MCPHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCPHandler))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
