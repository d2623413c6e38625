// Package selectcmder provides the select command previewing the budget
// allocation without running any pipeline.
package selectcmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/stack"
)

type SelectCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	group         string
	jsonOut       bool
	debug         bool
}

const selectLongDesc string = `Show what the budget would process next.

Allocates the per-cycle budget across the budget groups and lists the
entities each group admits, highest balance first. Nothing is spent.

Examples:
  attend select
  attend select --group people
  attend select --json`

const selectShortDesc string = "Preview the budget allocation"

func NewSelectCmd() *cobra.Command {
	cmder := &SelectCommander{}

	cmd := &cobra.Command{
		Use:   "select",
		Short: selectShortDesc,
		Long:  selectLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cfg, configDir, err := config.ForCommand(cmd, config.StorageFlags)
			if err != nil {
				return err
			}
			return cmder.run(cmd, cfg, configDir)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	cmd.Flags().StringVarP(&cmder.group, "group", "g", "", "Only allocate this budget group")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print JSON instead of tables")

	return cmd
}

func (c *SelectCommander) run(cmd *cobra.Command, cfg *config.Config, configDir string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: logger.NewLogger(c.debug)})
	if err != nil {
		return err
	}
	defer st.Close()

	selections, err := st.Selector.Select(ctx, c.group)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(selections)
	}

	fmt.Fprintln(w)
	for _, s := range selections {
		printSelection(cmd, s)
	}
	return nil
}

func printSelection(cmd *cobra.Command, s budget.Selection) {
	w := cmd.OutOrStdout()

	limited := ""
	if s.Limited {
		limited = " limited"
	}
	fmt.Fprintf(w, "  %s %s  %s\n",
		cliui.HeaderStyle.Render(s.Group),
		cliui.DimStyle.Render("→ "+s.Pipeline),
		cliui.DimStyle.Render(fmt.Sprintf("used %s of %s, %d eligible%s",
			cliui.FormatAmount(s.Used), cliui.FormatAmount(s.Budget), s.Eligible, limited)),
	)

	if len(s.Targets) == 0 {
		fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render("nothing admitted"))
		return
	}

	rows := make([][]string, 0, len(s.Targets))
	for _, t := range s.Targets {
		flag := ""
		if t.Provisional {
			flag = "provisional"
		}
		rows = append(rows, []string{t.Key.String(), cliui.FormatAmount(t.Balance), flag})
	}
	fmt.Fprintln(w, cliui.Table([]string{"ENTITY", "BALANCE", ""}, rows))
	fmt.Fprintln(w)
}
