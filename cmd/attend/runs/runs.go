// Package runscmder provides the runs command listing pipeline runs and
// showing the detail of one run.
package runscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api/inspect"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/stack"
	"github.com/papercomputeco/attend/pkg/utils"
)

type RunsCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	pipeline      string
	status        string
	limit         int
	jsonOut       bool
	debug         bool
}

const runsLongDesc string = `List pipeline runs, newest first.

With a run id, shows the full record of that run: its counts, usage and
per-target errors.

Examples:
  attend runs
  attend runs --pipeline digest --status failed
  attend runs 3f1c2a9e-0b7d-4e55-9a51-6d1f0c2b8e47`

const runsShortDesc string = "List pipeline runs"

func NewRunsCmd() *cobra.Command {
	cmder := &RunsCommander{}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: runsShortDesc,
		Long:  runsLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cfg, configDir, err := config.ForCommand(cmd, config.StorageFlags)
			if err != nil {
				return err
			}
			return cmder.run(cmd, cfg, configDir, args)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	cmd.Flags().StringVar(&cmder.pipeline, "pipeline", "", "Only runs of this pipeline")
	cmd.Flags().StringVar(&cmder.status, "status", "", "Only runs with this status")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", inspect.DefaultRunLimit, "Maximum runs to show")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print JSON instead of a table")

	return cmd
}

func (c *RunsCommander) run(cmd *cobra.Command, cfg *config.Config, configDir string, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: logger.NewLogger(c.debug)})
	if err != nil {
		return err
	}
	defer st.Close()

	var out any
	if len(args) == 1 {
		run, err := inspect.GetRun(ctx, args[0], st.Driver)
		if err != nil {
			return err
		}
		if !c.jsonOut {
			return c.printRun(cmd, run)
		}
		out = run
	} else {
		list, err := inspect.ListRuns(ctx, c.pipeline, c.status, c.limit, st.Driver)
		if err != nil {
			return err
		}
		if !c.jsonOut {
			c.printList(cmd, list)
			return nil
		}
		out = list
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (c *RunsCommander) printList(cmd *cobra.Command, list *inspect.RunsOutput) {
	w := cmd.OutOrStdout()
	if list.Count == 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No runs found."))
		return
	}

	rows := make([][]string, 0, len(list.Runs))
	for _, r := range list.Runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.Pipeline,
			string(r.Status),
			r.StartedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%d/%d", r.Processed, r.Matched),
			cliui.FormatAmount(r.Usage.Spent),
		})
	}
	fmt.Fprintln(w, cliui.Table([]string{"RUN", "PIPELINE", "STATUS", "STARTED", "PROCESSED", "SPENT"}, rows))
}

func (c *RunsCommander) printRun(cmd *cobra.Command, run *pipeline.RunRecord) error {
	rendered, err := cliui.RenderMarkdown(runMarkdown(run))
	if err != nil {
		return fmt.Errorf("rendering run: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

// runMarkdown formats a run record as a markdown document.
func runMarkdown(run *pipeline.RunRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Pipeline | %s |\n", run.Pipeline)
	fmt.Fprintf(&b, "| Status | **%s** |\n", run.Status)
	fmt.Fprintf(&b, "| Content hash | `%s` |\n", utils.Truncate(run.ContentHash, 16))
	fmt.Fprintf(&b, "| Started | %s |\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "| Completed | %s |\n", run.CompletedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&b, "| Targets | %d matched, %d processed, %d skipped |\n", run.Matched, run.Processed, run.Skipped)
	fmt.Fprintf(&b, "| Artifacts | %d |\n", run.Artifacts)
	fmt.Fprintf(&b, "| Tokens | %d |\n", run.Usage.Tokens)
	fmt.Fprintf(&b, "| Spent | %s (retained %s) |\n",
		cliui.FormatAmount(run.Usage.Spent), cliui.FormatAmount(run.Usage.Retained))
	fmt.Fprintf(&b, "| Duration | %dms |\n", run.Usage.DurationMs)

	if len(run.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range run.Errors {
			switch {
			case e.Target != "" && e.Node != "":
				fmt.Fprintf(&b, "- `%s` at `%s`: %s\n", e.Target, e.Node, e.Message)
			case e.Target != "":
				fmt.Fprintf(&b, "- `%s`: %s\n", e.Target, e.Message)
			default:
				fmt.Fprintf(&b, "- %s\n", e.Message)
			}
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
