package config

import (
	"fmt"

	"github.com/spf13/cobra"
)

// FlagConfigDir is the persistent flag every command reads its .attend/
// override from.
const FlagConfigDir = "config-dir"

// ForCommand resolves the configuration of a cobra command: it reads
// --config-dir, initializes viper, binds the command's registered flags
// and overlays everything onto config.toml. It returns the config and the
// config dir override.
func ForCommand(cmd *cobra.Command, registryKeys []string) (*Config, string, error) {
	configDir, _ := cmd.Flags().GetString(FlagConfigDir)

	v, err := InitViper(configDir)
	if err != nil {
		return nil, "", err
	}
	BindRegisteredFlags(v, cmd, Flags, registryKeys)

	cfg, err := Resolve(v, configDir)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configDir, nil
}
