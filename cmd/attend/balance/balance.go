// Package balancecmder provides the balance command.
package balancecmder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/stack"
)

type BalanceCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	jsonOut       bool
	debug         bool
}

const balanceLongDesc string = `Show an entity's attention balance.

Reads the store directly, so it works with or without a running attend
serve. Prints the balance with the entity's category cap, budget group
and related entities.

Examples:
  attend balance self:person:alice
  attend balance self:pair:alice+bob --json`

const balanceShortDesc string = "Show an entity's balance"

func NewBalanceCmd() *cobra.Command {
	cmder := &BalanceCommander{}

	cmd := &cobra.Command{
		Use:   "balance <key>",
		Short: balanceShortDesc,
		Long:  balanceLongDesc,
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
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print JSON instead of a table")

	return cmd
}

func (c *BalanceCommander) run(cmd *cobra.Command, cfg *config.Config, configDir, raw string) error {
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

	out, err := inspect.Balance(ctx, raw, st.Ledger, st.Registry, log)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Entity:  "), cliui.ValueStyle.Render(out.Key.String()))
	fmt.Fprintf(w, "  %s  %s %s\n", cliui.KeyStyle.Render("Balance: "),
		cliui.ValueStyle.Render(cliui.FormatAmount(out.Balance)),
		cliui.DimStyle.Render("/ "+cliui.FormatAmount(out.Cap)),
	)
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Group:   "), cliui.ValueStyle.Render(out.Group))
	if out.Provisional {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Status:  "), cliui.DimStyle.Render("provisional"))
	}

	if len(out.Related) > 0 {
		related := make([]string, 0, len(out.Related))
		for _, r := range out.Related {
			related = append(related, r.Key.String())
		}
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Related: "), cliui.DimStyle.Render(strings.Join(related, ", ")))
	}
	fmt.Fprintln(w)
	return nil
}
