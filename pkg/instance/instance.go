// Package instance tracks the attend serve process owning a .attend/
// directory: an exclusive lock so two schedulers never share one ledger,
// and a state file that attend status reads.
package instance

import (
	"path/filepath"

	"github.com/papercomputeco/attend/pkg/dotdir"
)

// Manager locates the serve files inside one .attend/ directory.
type Manager struct {
	// Dir is the resolved .attend/ directory.
	Dir string

	// LogPath is where serve appends its log.
	LogPath string

	statePath string
	lockPath  string
}

// NewManager resolves the .attend/ directory for configDir, creating it
// when needed.
func NewManager(configDir string) (*Manager, error) {
	dir, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		Dir:       dir,
		LogPath:   filepath.Join(dir, "serve.log"),
		statePath: filepath.Join(dir, "serve.json"),
		lockPath:  filepath.Join(dir, "serve.lock"),
	}, nil
}
