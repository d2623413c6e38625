package api

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/scheduler"
	"github.com/papercomputeco/attend/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EarnRequest is the body of POST /v1/earn.
type EarnRequest struct {
	Key    string  `json:"key"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
	Token  string  `json:"token,omitempty"`
}

// ActivityRequest is the body of POST /v1/activity.
type ActivityRequest struct {
	Key    string `json:"key"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
	Token  string `json:"token,omitempty"`
}

// BalanceResponse reports an entity's balance after a write.
type BalanceResponse struct {
	Key     entity.Key `json:"key"`
	Balance float64    `json:"balance"`
}

// EntitiesResponse lists registry records.
type EntitiesResponse struct {
	Entities []*entity.Entity `json:"entities"`
	Count    int              `json:"count"`
}

// SelectResponse is the outcome of a budget allocation.
type SelectResponse struct {
	Selections []budget.Selection `json:"selections"`
}

// PipelineView is a loaded pipeline with its scheduling state.
type PipelineView struct {
	Name        string          `json:"name"`
	Category    entity.Category `json:"category"`
	Schedule    string          `json:"schedule,omitempty"`
	Trigger     string          `json:"trigger,omitempty"`
	ContentHash string          `json:"content_hash"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
}

// PipelinesResponse lists the loaded pipelines.
type PipelinesResponse struct {
	Pipelines []PipelineView `json:"pipelines"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleEarn credits a raw amount to an entity.
func (s *Server) handleEarn(c *fiber.Ctx) error {
	var req EarnRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	key, err := entity.Parse(req.Key)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.config.Ledger.Earn(c.Context(), key, req.Amount, req.Reason, req.Token); err != nil {
		return s.failErr(c, err)
	}
	return s.respondBalance(c, key)
}

// handleActivity records a weighted activity against an entity.
func (s *Server) handleActivity(c *fiber.Ctx) error {
	var req ActivityRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Kind == "" {
		return s.fail(c, fiber.StatusBadRequest, "kind is required")
	}

	key, err := entity.Parse(req.Key)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}
	err = s.config.Ledger.Record(c.Context(), ledger.Activity{
		Key:    key,
		Kind:   req.Kind,
		Reason: req.Reason,
		Token:  req.Token,
	})
	if err != nil {
		return s.failErr(c, err)
	}
	return s.respondBalance(c, key)
}

func (s *Server) respondBalance(c *fiber.Ctx, key entity.Key) error {
	balance, err := s.config.Ledger.Balance(c.Context(), key)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(BalanceResponse{Key: key, Balance: balance})
}

// handleListEntities lists registry records, optionally narrowed to one
// category with ?category=.
func (s *Server) handleListEntities(c *fiber.Ctx) error {
	category := entity.Category(c.Query("category"))
	if category != "" && !category.Valid() {
		return s.fail(c, fiber.StatusBadRequest, "unknown category: "+string(category))
	}

	out := []*entity.Entity{}
	for _, e := range s.config.Entities.List() {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return c.JSON(EntitiesResponse{Entities: out, Count: len(out)})
}

// handleBalance returns the balance, cap and relations of one entity.
func (s *Server) handleBalance(c *fiber.Ctx) error {
	raw, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, "invalid key encoding")
	}

	out, err := inspect.Balance(c.Context(), raw, s.config.Ledger, s.config.Entities, s.logger)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(out)
}

// handleLedger returns an entity's ledger entries, newest first.
// Query parameters:
//   - limit (optional, default 50): number of entries to return
func (s *Server) handleLedger(c *fiber.Ctx) error {
	raw, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, "invalid key encoding")
	}
	limit, err := queryLimit(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}

	out, err := inspect.History(c.Context(), raw, limit, s.config.Ledger, s.config.Entities, s.logger)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(out)
}

// handleSelect allocates the budget against the current ledger.
// Query parameters:
//   - group (optional): restrict the result to one group
func (s *Server) handleSelect(c *fiber.Ctx) error {
	selections, err := s.config.Selector.Select(c.Context(), c.Query("group"))
	if err != nil {
		return s.failErr(c, err)
	}
	if selections == nil {
		selections = []budget.Selection{}
	}
	return c.JSON(SelectResponse{Selections: selections})
}

// handleListRuns lists run records, newest first.
// Query parameters:
//   - pipeline (optional): pipeline name
//   - status (optional): run status
//   - limit (optional, default 20)
func (s *Server) handleListRuns(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, err.Error())
	}

	out, err := inspect.ListRuns(c.Context(), c.Query("pipeline"), c.Query("status"), limit, s.config.Runs)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(out)
}

// handleGetRun returns one run record.
func (s *Server) handleGetRun(c *fiber.Ctx) error {
	run, err := inspect.GetRun(c.Context(), c.Params("id"), s.config.Runs)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(run)
}

// handleListPipelines lists the loaded pipelines.
func (s *Server) handleListPipelines(c *fiber.Ctx) error {
	if s.config.Scheduler == nil {
		return s.fail(c, fiber.StatusServiceUnavailable, "scheduler is not running")
	}

	out := PipelinesResponse{Pipelines: []PipelineView{}}
	for _, p := range s.config.Scheduler.Pipelines() {
		hash, err := p.ContentHash()
		if err != nil {
			return s.failErr(c, err)
		}
		view := PipelineView{
			Name:        p.Name,
			Category:    p.Category,
			Schedule:    p.Schedule,
			Trigger:     p.Trigger,
			ContentHash: hash,
		}
		if last := s.config.Scheduler.LastRun(p.Name); !last.IsZero() {
			view.LastRun = &last
		}
		out.Pipelines = append(out.Pipelines, view)
	}
	return c.JSON(out)
}

// handleTrigger runs a pipeline now and returns its run record.
func (s *Server) handleTrigger(c *fiber.Ctx) error {
	if s.config.Scheduler == nil {
		return s.fail(c, fiber.StatusServiceUnavailable, "scheduler is not running")
	}

	name := c.Params("name")
	run, err := s.config.Scheduler.Trigger(c.Context(), name)
	if err != nil && run == nil {
		return s.failErr(c, err)
	}
	if err != nil {
		s.logger.Warn("triggered run ended early", zap.String("pipeline", name), zap.Error(err))
	}
	return c.JSON(run)
}

func queryLimit(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

func (s *Server) fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

// failErr maps domain errors onto HTTP statuses.
func (s *Server) failErr(c *fiber.Ctx, err error) error {
	var notFound storage.NotFoundError
	status := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, entity.ErrInvalidKey),
		errors.Is(err, ledger.ErrNegativeAmount),
		errors.Is(err, ledger.ErrUnknownActivity),
		errors.Is(err, inspect.ErrInvalidStatus):
		status = fiber.StatusBadRequest
	case ledger.IsUnknownEntity(err),
		errors.As(err, &notFound),
		errors.Is(err, budget.ErrUnknownGroup),
		errors.Is(err, scheduler.ErrUnknownPipeline):
		status = fiber.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return s.fail(c, status, err.Error())
}
