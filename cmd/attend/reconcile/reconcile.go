// Package reconcilecmder provides the reconcile command resolving runs
// left running by an interrupted attend serve.
package reconcilecmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/instance"
	"github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/stack"
)

type ReconcileCommander struct {
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	debug         bool
}

const reconcileLongDesc string = `Resolve interrupted pipeline runs.

Marks every run record still in the running state as failed. attend serve
does this on start; use this command to clean up a store without starting
the service. Refuses to run while a serve owns the .attend directory.

Examples:
  attend reconcile`

const reconcileShortDesc string = "Resolve interrupted pipeline runs"

func NewReconcileCmd() *cobra.Command {
	cmder := &ReconcileCommander{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: reconcileShortDesc,
		Long:  reconcileLongDesc,
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

func (c *ReconcileCommander) run(cmd *cobra.Command, cfg *config.Config, configDir string) error {
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
		return errors.New("attend serve is running; its runs are not interrupted")
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	log := logger.NewLogger(c.debug)
	st, err := stack.Open(ctx, cfg, stack.Options{ConfigDir: configDir, Logger: log})
	if err != nil {
		return err
	}
	defer st.Close()

	executor, err := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Runs:   st.Driver,
		Ledger: st.Ledger,
		Nodes:  pipeline.NewRegistry(),
		Logger: log,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var resolved int
	err = cliui.Step(w, "Reconciling runs", func() error {
		var err error
		resolved, err = executor.Reconcile(ctx)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "    %s\n", cliui.DimStyle.Render(fmt.Sprintf("%d interrupted runs marked failed", resolved)))
	return nil
}
