// Package configcmder provides the config command for managing persistent
// attend configuration stored in the .attend/ directory.
package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/cliui"
	"github.com/papercomputeco/attend/pkg/config"
)

const configLongDesc string = `Manage persistent attend configuration.

Configuration is stored as config.toml in the .attend/ directory and
provides default values for command flags. CLI flags and ATTEND_
environment variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, e.g.
  storage.driver, api.listen, ledger.decay_rate, budget.total,
  scheduler.tick, pipelines.watch, eventstream.provider

Category caps, activity weights, focus multipliers and budget groups are
tables; edit them in config.toml directly.

Use subcommands to get, set, or list configuration values:
  attend config set <key> <value>    Set a configuration value
  attend config get <key>            Get a configuration value
  attend config list                 List all configuration values

Examples:
  attend config set storage.driver postgres
  attend config set ledger.decay_rate 0.1
  attend config get scheduler.tick
  attend config list`

const configShortDesc string = "Manage persistent attend configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if config.IsValidConfigKey(key) {
		return nil
	}
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func configFileLine(cfger *config.Configer) string {
	if target := cfger.GetTarget(); target != "" {
		return fmt.Sprintf("\n  %s %s\n\n", cliui.KeyStyle.Render("Config file:"), cliui.DimStyle.Render(target))
	}
	return fmt.Sprintf("\n  %s\n\n", cliui.DimStyle.Render("No .attend directory found. Using defaults."))
}
