// Package artifacts stores pipeline artifacts as JSON lines, one file per
// pipeline.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/pipeline"
)

const (
	dirName   = "artifacts"
	extension = ".jsonl"
)

// FileSink appends artifacts to <dir>/<pipeline>.jsonl.
type FileSink struct {
	dir    string
	logger *zap.Logger

	// mu serializes appends; the executor may accept from several
	// targets at once.
	mu sync.Mutex
}

var _ pipeline.ArtifactSink = (*FileSink)(nil)

// NewFileSink creates a sink writing under configDir/artifacts.
func NewFileSink(configDir string, logger *zap.Logger) (*FileSink, error) {
	if configDir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(configDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Dir returns the directory artifacts are written to.
func (s *FileSink) Dir() string {
	return s.dir
}

// Accept appends one artifact to its pipeline's file.
func (s *FileSink) Accept(_ context.Context, a *pipeline.Artifact) error {
	if a == nil {
		return errors.New("cannot store nil artifact")
	}

	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact %s: %w", a.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(a.Pipeline), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening artifact file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing artifact %s: %w", a.ID, err)
	}

	s.logger.Debug("artifact stored",
		zap.String("artifact_id", a.ID),
		zap.String("pipeline", a.Pipeline),
		zap.String("target", a.Target.String()),
	)
	return nil
}

// Read returns every stored artifact of a pipeline, oldest first. A
// pipeline without artifacts yields an empty slice.
func (s *FileSink) Read(name string) ([]*pipeline.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return []*pipeline.Artifact{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening artifact file: %w", err)
	}
	defer f.Close()

	var out []*pipeline.Artifact
	dec := json.NewDecoder(f)
	for dec.More() {
		var a pipeline.Artifact
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("decoding artifacts of %s: %w", name, err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *FileSink) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name)+extension)
}
