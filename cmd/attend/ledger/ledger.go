// Package ledgercmder provides the ledger command listing an entity's
// ledger entries.
package ledgercmder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/stack"
	"github.com/papercomputeco/attend/pkg/utils"
)

type LedgerCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	limit         int
	jsonOut       bool
	debug         bool
}

const ledgerLongDesc string = `Show an entity's ledger entries, newest first.

Every balance change is an append-only entry: earns, propagation and
spillover from related entities, pipeline spends and retains, decay,
warms and resets.

Examples:
  attend ledger self:person:alice
  attend ledger self:space:general --limit 200 --json`

const ledgerShortDesc string = "Show an entity's ledger entries"

func NewLedgerCmd() *cobra.Command {
	cmder := &LedgerCommander{}

	cmd := &cobra.Command{
		Use:   "ledger <key>",
		Short: ledgerShortDesc,
		Long:  ledgerLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cfg, configDir, err := config.ForCommand(cmd, config.StorageFlags)
			if err != nil {
				return err
			}
			return cmder.run(cmd, cfg, configDir, args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", inspect.DefaultHistoryLimit, "Maximum entries to show")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print JSON instead of a table")

	return cmd
}

func (c *LedgerCommander) run(cmd *cobra.Command, cfg *config.Config, configDir, raw string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.NewLogger(c.debug)

	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: log})
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := inspect.History(ctx, raw, c.limit, st.Ledger, st.Registry, log)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "\n  %s  %s  %s\n\n",
		cliui.KeyStyle.Render(out.Key.String()),
		cliui.ValueStyle.Render(cliui.FormatAmount(out.Balance)),
		cliui.DimStyle.Render(fmt.Sprintf("(%d entries)", out.Count)),
	)
	if out.Count == 0 {
		return nil
	}

	fmt.Fprintln(w, cliui.Table([]string{"TIME", "TYPE", "AMOUNT", "SOURCE", "REASON"}, rows(out.Entries)))
	return nil
}

func rows(entries []*ledger.Entry) [][]string {
	out := make([][]string, 0, len(entries))
	for _, e := range entries {
		source := ""
		if e.Source != nil {
			source = e.Source.String()
		}
		reason := e.Reason
		if reason == "" && e.RunID != "" {
			reason = "run " + e.RunID
		}
		out = append(out, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			string(e.Type),
			cliui.FormatAmount(e.Amount),
			source,
			utils.Truncate(reason, 48),
		})
	}
	return out
}
