// Package statuscmder provides the status command reporting whether an
// attend serve owns the .attend directory and what it is doing.
package statuscmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/api/client"
	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/instance"
)

const statusLongDesc string = `Show the state of attend serve.

Reads the serve state from the .attend/ directory (or ~/.attend/): the
process id, API address, storage driver, loaded pipelines and the last
scheduler tick. When a serve is running its API is pinged.

Examples:
  attend status`

const statusShortDesc string = "Show attend serve state"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString(config.FlagConfigDir)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runStatus(ctx, cmd.OutOrStdout(), configDir)
		},
	}

	return cmd
}

func runStatus(ctx context.Context, w io.Writer, configDir string) error {
	inst, err := instance.NewManager(configDir)
	if err != nil {
		return err
	}

	running, err := isRunning(inst)
	if err != nil {
		return err
	}

	state, err := inst.LoadState()
	if err != nil {
		return fmt.Errorf("loading serve state: %w", err)
	}

	if !running || state == nil {
		fmt.Fprintf(w, "  %s attend serve is not running for %s\n",
			cliui.DimStyle.Render("●"), cliui.DimStyle.Render(inst.Dir))
		return nil
	}

	fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Directory: "), cliui.ValueStyle.Render(inst.Dir))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("PID:       "), cliui.ValueStyle.Render(strconv.Itoa(state.PID)))
	fmt.Fprintf(w, "  %s  %s %s\n", cliui.KeyStyle.Render("API:       "),
		cliui.ValueStyle.Render(state.APIURL), pingMark(ctx, state.APIURL))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Storage:   "), cliui.ValueStyle.Render(state.Storage))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Started:   "), cliui.ValueStyle.Render(ago(state.StartedAt)))
	if !state.LastTick.IsZero() {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Last tick: "), cliui.ValueStyle.Render(ago(state.LastTick)))
	}
	pipelines := "none"
	if len(state.Pipelines) > 0 {
		pipelines = strings.Join(state.Pipelines, ", ")
	}
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Pipelines: "), cliui.ValueStyle.Render(pipelines))
	fmt.Fprintf(w, "  %s  %s\n\n", cliui.KeyStyle.Render("Log:       "), cliui.DimStyle.Render(state.LogPath))
	return nil
}

// isRunning probes the serve lock. A lock we can take means no serve
// holds it, whatever the state file says.
func isRunning(inst *instance.Manager) (bool, error) {
	lock, err := inst.TryLock()
	if errors.Is(err, instance.ErrLocked) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, lock.Release()
}

func pingMark(ctx context.Context, target string) string {
	cl, err := client.New(target, nil)
	if err != nil {
		return cliui.FailMark
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return cliui.Mark(cl.Ping(ctx))
}

func ago(t time.Time) string {
	d := time.Since(t).Truncate(time.Second)
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.DateTime), d)
}
