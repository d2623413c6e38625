package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const stateVersion = 1

// State is the persisted view of a running serve process.
type State struct {
	Version   int       `json:"version"`
	PID       int       `json:"pid"`
	APIURL    string    `json:"api_url"`
	Storage   string    `json:"storage"`
	Pipelines []string  `json:"pipelines"`
	StartedAt time.Time `json:"started_at"`

	// LastTick is when the scheduler last looked for due pipelines.
	LastTick time.Time `json:"last_tick,omitzero"`

	LogPath   string    `json:"log_path"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadState reads the serve state. It returns nil, nil when serve is not
// running or never wrote one.
func (m *Manager) LoadState() (*State, error) {
	raw, err := os.ReadFile(m.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.statePath, err)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", m.statePath, err)
	}
	return &s, nil
}

// SaveState stamps s and replaces the state file. Readers never observe a
// partially written file.
func (m *Manager) SaveState(s *State) error {
	if s == nil {
		return errors.New("nil serve state")
	}
	if s.Version == 0 {
		s.Version = stateVersion
	}
	if s.LogPath == "" {
		s.LogPath = m.LogPath
	}
	s.UpdatedAt = time.Now()

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding serve state: %w", err)
	}
	return replaceFile(m.Dir, m.statePath, raw)
}

// ClearState removes the state file if present.
func (m *Manager) ClearState() error {
	err := os.Remove(m.statePath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("removing %s: %w", m.statePath, err)
}

// replaceFile writes raw to a 0600 sibling in dir and renames it over path.
func replaceFile(dir, path string, raw []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".serve-*.json")
	if err != nil {
		return fmt.Errorf("staging serve state: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("staging serve state: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("staging serve state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("staging serve state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing serve state: %w", err)
	}
	return nil
}
