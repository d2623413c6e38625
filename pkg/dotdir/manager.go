// Package dotdir manages the .attend/ and ~/.attend directories, which hold
// config.toml, the default SQLite database, pipeline definitions and the
// serve instance state.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the attend directory.
	dirName = ".attend"

	databaseFile = "attend.db"
	pipelinesDir = "pipelines"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .attend/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.attend/ dir
//  3. Home ~/.attend/ dir, created if missing
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating attend directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// DatabasePath is the default SQLite database inside the resolved dir.
func (m *Manager) DatabasePath(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databaseFile), nil
}

// PipelinesDir is the default pipeline definition directory inside the
// resolved dir. It is not created.
func (m *Manager) PipelinesDir(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pipelinesDir), nil
}

// localDirExists checks whether a .attend/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
