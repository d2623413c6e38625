// Package attendcmder
package attendcmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/attend/cmd/attend/auth"
	balancecmder "github.com/papercomputeco/attend/cmd/attend/balance"
	configcmder "github.com/papercomputeco/attend/cmd/attend/config"
	decaycmder "github.com/papercomputeco/attend/cmd/attend/decay"
	earncmder "github.com/papercomputeco/attend/cmd/attend/earn"
	initcmder "github.com/papercomputeco/attend/cmd/attend/init"
	ledgercmder "github.com/papercomputeco/attend/cmd/attend/ledger"
	reconcilecmder "github.com/papercomputeco/attend/cmd/attend/reconcile"
	runscmder "github.com/papercomputeco/attend/cmd/attend/runs"
	selectcmder "github.com/papercomputeco/attend/cmd/attend/selectcmd"
	servecmder "github.com/papercomputeco/attend/cmd/attend/serve"
	statuscmder "github.com/papercomputeco/attend/cmd/attend/status"
	triggercmder "github.com/papercomputeco/attend/cmd/attend/trigger"
	versioncmder "github.com/papercomputeco/attend/cmd/version"
	"github.com/papercomputeco/attend/pkg/config"
)

const attendLongDesc string = `attend decides what an agent pays attention to.

Activity earns attention for people, pairs, spaces and themes. Attention
propagates to related entities and decays when they go quiet. Each cycle a
fixed budget is spent on the most attended entities by running pipelines.

Set up a project directory using:
  attend init               Create .attend/ with a config and sample pipeline

Run the service using:
  attend serve              Run the scheduler and API server

Inspect and feed the ledger using:
  attend earn <key> <n>     Credit attention to an entity
  attend balance <key>      Show an entity's balance
  attend ledger <key>       Show an entity's ledger entries
  attend select             Show what the budget would process next
  attend runs               List pipeline runs`

const attendShortDesc string = "attend - Attention budgets for agents"

func NewAttendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "attend",
		Short:        attendShortDesc,
		Long:         attendLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String(config.FlagConfigDir, "", "Override the .attend directory")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(earncmder.NewEarnCmd())
	cmd.AddCommand(balancecmder.NewBalanceCmd())
	cmd.AddCommand(ledgercmder.NewLedgerCmd())
	cmd.AddCommand(selectcmder.NewSelectCmd())
	cmd.AddCommand(runscmder.NewRunsCmd())
	cmd.AddCommand(decaycmder.NewDecayCmd())
	cmd.AddCommand(reconcilecmder.NewReconcileCmd())
	cmd.AddCommand(triggercmder.NewTriggerCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
