// Package triggercmder provides the trigger command running a pipeline
// now through a running attend serve.
package triggercmder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api/client"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

type TriggerCommander struct {
	apiTarget string
	timeout   time.Duration
}

const triggerLongDesc string = `Run a pipeline now.

Asks a running attend serve to allocate the budget and run the named
pipeline over its targets immediately, regardless of its schedule. The
command waits for the run to finish and prints its record.

Examples:
  attend trigger digest
  attend trigger digest --api-target http://localhost:9090`

const triggerShortDesc string = "Run a pipeline now"

func NewTriggerCmd() *cobra.Command {
	cmder := &TriggerCommander{}

	cmd := &cobra.Command{
		Use:   "trigger <pipeline>",
		Short: triggerShortDesc,
		Long:  triggerLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := config.ForCommand(cmd, []string{config.FlagAPITarget}); err != nil {
				return err
			}
			return cmder.run(cmd, args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 10*time.Minute, "How long to wait for the run")

	return cmd
}

func (c *TriggerCommander) run(cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cl, err := client.New(c.apiTarget, &http.Client{Timeout: c.timeout})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var run *pipeline.RunRecord
	err = cliui.Step(w, "Running "+name, func() error {
		var err error
		run, err = cl.Trigger(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("triggering %s: %w", name, err)
	}

	fmt.Fprintf(w, "    %s %s  %s\n",
		cliui.KeyStyle.Render(run.ID),
		cliui.ValueStyle.Render(string(run.Status)),
		cliui.DimStyle.Render(fmt.Sprintf("%d processed, %d skipped, %d artifacts, spent %s",
			run.Processed, run.Skipped, run.Artifacts, cliui.FormatAmount(run.Usage.Spent))),
	)
	for _, e := range run.Errors {
		fmt.Fprintf(w, "    %s %s\n", cliui.FailMark, cliui.DimStyle.Render(e.Target+": "+e.Message))
	}
	return nil
}
