// Package initcmder provides the init command for initializing a local
// .attend directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/config"
)

const (
	dirName      = ".attend"
	pipelinesDir = "pipelines"
	samplePath   = "person_digest.toml"
)

// samplePipeline summarizes the ledger of the most attended people once a
// day without calling a model.
const samplePipeline = `name = "person_digest"
category = "person"
schedule = "24h"
max_targets = 10

[filter]
min_balance = 1.0

[[nodes]]
type = "ledger_fetch"

[nodes.params]
limit = 100

[[nodes]]
type = "transform"

[[nodes]]
type = "persist"

[nodes.params]
kind = "digest"
`

const initLongDesc string = `Initialize a new .attend/ directory in the current working directory.

Creates a local .attend/ directory that takes precedence over the default
~/.attend/ directory, with a config.toml holding the default settings and
a sample pipeline under pipelines/.

Existing files are left untouched.

Examples:
  attend init`

const initShortDesc string = "Initialize a local .attend/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			return runInit(cmd.OutOrStdout(), filepath.Join(cwd, dirName))
		},
	}

	return cmd
}

func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, pipelinesDir), 0o755); err != nil {
		return fmt.Errorf("creating .attend directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfger.GetTarget()); errors.Is(err, os.ErrNotExist) {
		if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
			return err
		}
	}

	sample := filepath.Join(dir, pipelinesDir, samplePath)
	if _, err := os.Stat(sample); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(sample, []byte(samplePipeline), 0o644); err != nil {
			return fmt.Errorf("writing sample pipeline: %w", err)
		}
	}

	fmt.Fprintf(w, "Initialized .attend directory: %s\n", dir)
	return nil
}
