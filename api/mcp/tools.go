package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/api/inspect"
)

var (
	balanceToolName    = "balance"
	balanceDescription = "Report the current attention balance of an entity, its cap, budget group and related entities. Keys look like global:person:alice or space=42:pair:alice+bob."

	ledgerToolName    = "ledger"
	ledgerDescription = "List the most recent ledger entries (earn, spend, retain, decay, propagate, spillover) of an entity, newest first."

	runsToolName    = "runs"
	runsDescription = "List recent pipeline runs, optionally filtered by pipeline name and status."

	selectToolName    = "select"
	selectDescription = "Allocate the attention budget against the current ledger and report which entities each budget group would process next."
)

// KeyInput names one entity.
type KeyInput struct {
	Key   string `json:"key" jsonschema:"the entity key, e.g. global:person:alice"`
	Limit int    `json:"limit,omitempty" jsonschema:"number of entries to return (default: 50)"`
}

// RelationOutput is one edge of the attention graph.
type RelationOutput struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	CrossScope bool   `json:"cross_scope"`
}

// BalanceOutput is the output of the balance tool.
type BalanceOutput struct {
	Key         string           `json:"key"`
	Category    string           `json:"category"`
	Group       string           `json:"group"`
	Balance     float64          `json:"balance"`
	Cap         float64          `json:"cap"`
	Provisional bool             `json:"provisional"`
	Related     []RelationOutput `json:"related"`
}

// EntryOutput is one ledger entry.
type EntryOutput struct {
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Source    string  `json:"source,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// LedgerOutput is the output of the ledger tool.
type LedgerOutput struct {
	Key     string        `json:"key"`
	Balance float64       `json:"balance"`
	Entries []EntryOutput `json:"entries"`
	Count   int           `json:"count"`
}

// RunsInput filters the runs tool.
type RunsInput struct {
	Pipeline string `json:"pipeline,omitempty" jsonschema:"only runs of this pipeline"`
	Status   string `json:"status,omitempty" jsonschema:"one of pending, running, success, partial, failed, dry"`
	Limit    int    `json:"limit,omitempty" jsonschema:"number of runs to return (default: 20)"`
}

// RunOutput summarizes one run.
type RunOutput struct {
	ID          string  `json:"id"`
	Pipeline    string  `json:"pipeline"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	Matched     int     `json:"matched"`
	Processed   int     `json:"processed"`
	Skipped     int     `json:"skipped"`
	Artifacts   int     `json:"artifacts"`
	Spent       float64 `json:"spent"`
	Retained    float64 `json:"retained"`
	ContentHash string  `json:"content_hash"`
}

// RunsOutput is the output of the runs tool.
type RunsOutput struct {
	Runs  []RunOutput `json:"runs"`
	Count int         `json:"count"`
}

// SelectInput names a budget group.
type SelectInput struct {
	Group string `json:"group,omitempty" jsonschema:"only this budget group (default: every group)"`
}

// TargetOutput is one admitted entity.
type TargetOutput struct {
	Key     string  `json:"key"`
	Balance float64 `json:"balance"`
}

// GroupOutput is one group's allocation.
type GroupOutput struct {
	Group    string         `json:"group"`
	Pipeline string         `json:"pipeline"`
	Budget   float64        `json:"budget"`
	Used     float64        `json:"used"`
	Eligible int            `json:"eligible"`
	Limited  bool           `json:"limited"`
	Targets  []TargetOutput `json:"targets"`
}

// SelectOutput is the output of the select tool.
type SelectOutput struct {
	Groups []GroupOutput `json:"groups"`
}

func (s *Server) handleBalance(ctx context.Context, _ *mcp.CallToolRequest, input KeyInput) (*mcp.CallToolResult, BalanceOutput, error) {
	s.config.Logger.Debug("MCP balance request", zap.String("key", input.Key))

	res, err := inspect.Balance(ctx, input.Key, s.config.Ledger, s.config.Entities, s.config.Logger)
	if err != nil {
		return errorResult("Failed to read balance: %v", err), BalanceOutput{}, nil
	}

	output := BalanceOutput{
		Key:         res.Key.String(),
		Category:    string(res.Category),
		Group:       res.Group,
		Balance:     res.Balance,
		Cap:         res.Cap,
		Provisional: res.Provisional,
		Related:     make([]RelationOutput, 0, len(res.Related)),
	}
	for _, rel := range res.Related {
		output.Related = append(output.Related, RelationOutput{
			Key:        rel.Key.String(),
			Kind:       string(rel.Kind),
			CrossScope: rel.CrossScope,
		})
	}
	return s.result(output), output, nil
}

func (s *Server) handleLedger(ctx context.Context, _ *mcp.CallToolRequest, input KeyInput) (*mcp.CallToolResult, LedgerOutput, error) {
	s.config.Logger.Debug("MCP ledger request",
		zap.String("key", input.Key),
		zap.Int("limit", input.Limit),
	)

	res, err := inspect.History(ctx, input.Key, input.Limit, s.config.Ledger, s.config.Entities, s.config.Logger)
	if err != nil {
		return errorResult("Failed to read ledger: %v", err), LedgerOutput{}, nil
	}

	output := LedgerOutput{
		Key:     res.Key.String(),
		Balance: res.Balance,
		Entries: make([]EntryOutput, 0, len(res.Entries)),
		Count:   res.Count,
	}
	for _, e := range res.Entries {
		entry := EntryOutput{
			Type:      string(e.Type),
			Amount:    e.Amount,
			Reason:    e.Reason,
			RunID:     e.RunID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.Source != nil {
			entry.Source = e.Source.String()
		}
		output.Entries = append(output.Entries, entry)
	}
	return s.result(output), output, nil
}

func (s *Server) handleRuns(ctx context.Context, _ *mcp.CallToolRequest, input RunsInput) (*mcp.CallToolResult, RunsOutput, error) {
	res, err := inspect.ListRuns(ctx, input.Pipeline, input.Status, input.Limit, s.config.Runs)
	if err != nil {
		return errorResult("Failed to list runs: %v", err), RunsOutput{}, nil
	}

	output := RunsOutput{Runs: make([]RunOutput, 0, len(res.Runs)), Count: res.Count}
	for _, run := range res.Runs {
		output.Runs = append(output.Runs, RunOutput{
			ID:          run.ID,
			Pipeline:    run.Pipeline,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			Matched:     run.Matched,
			Processed:   run.Processed,
			Skipped:     run.Skipped,
			Artifacts:   run.Artifacts,
			Spent:       run.Usage.Spent,
			Retained:    run.Usage.Retained,
			ContentHash: run.ContentHash,
		})
	}
	return s.result(output), output, nil
}

func (s *Server) handleSelect(ctx context.Context, _ *mcp.CallToolRequest, input SelectInput) (*mcp.CallToolResult, SelectOutput, error) {
	selections, err := s.config.Selector.Select(ctx, input.Group)
	if err != nil {
		return errorResult("Failed to select targets: %v", err), SelectOutput{}, nil
	}

	output := SelectOutput{Groups: make([]GroupOutput, 0, len(selections))}
	for _, sel := range selections {
		group := GroupOutput{
			Group:    sel.Group,
			Pipeline: sel.Pipeline,
			Budget:   sel.Budget,
			Used:     sel.Used,
			Eligible: sel.Eligible,
			Limited:  sel.Limited,
			Targets:  make([]TargetOutput, 0, len(sel.Targets)),
		}
		for _, t := range sel.Targets {
			group.Targets = append(group.Targets, TargetOutput{Key: t.Key.String(), Balance: t.Balance})
		}
		output.Groups = append(output.Groups, group)
	}
	return s.result(output), output, nil
}

// result serializes the structured output as JSON for the text field as
// well, for clients that only read text content.
func (s *Server) result(output any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		s.config.Logger.Error("failed to marshal tool output", zap.Error(err))
		return errorResult("Failed to serialize results: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}

func errorResult(format string, err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, err)},
		},
	}
}
