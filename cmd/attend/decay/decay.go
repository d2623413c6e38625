// Package decaycmder provides the decay command running one decay sweep
// outside of attend serve.
package decaycmder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/instance"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/stack"
)

type DecayCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	debug         bool
}

const decayLongDesc string = `Run one decay sweep.

Every entity whose last direct activity is older than the decay threshold
loses a fraction of its balance. Sweeps are idempotent within one decay
cadence, so running this twice in the same window decays once.

attend serve sweeps on every tick; this command refuses to run while a
serve owns the .attend directory.

Examples:
  attend decay`

const decayShortDesc string = "Run one decay sweep"

func NewDecayCmd() *cobra.Command {
	cmder := &DecayCommander{}

	cmd := &cobra.Command{
		Use:   "decay",
		Short: decayShortDesc,
		Long:  decayLongDesc,
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

	return cmd
}

func (c *DecayCommander) run(cmd *cobra.Command, cfg *config.Config, configDir string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	inst, err := instance.NewManager(configDir)
	if err != nil {
		return err
	}
	lock, err := inst.TryLock()
	if errors.Is(err, instance.ErrLocked) {
		return errors.New("attend serve is running and sweeps decay itself")
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: logger.NewLogger(c.debug)})
	if err != nil {
		return err
	}
	defer st.Close()

	w := cmd.OutOrStdout()
	var report ledger.DecayReport
	err = cliui.Step(w, "Sweeping decay", func() error {
		var err error
		report, err = st.Ledger.DecayTick(ctx, time.Now())
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "    %s\n", cliui.DimStyle.Render(fmt.Sprintf(
		"%d scanned, %d decayed, %s removed",
		report.Scanned, report.Decayed, cliui.FormatAmount(report.Removed),
	)))
	return nil
}
