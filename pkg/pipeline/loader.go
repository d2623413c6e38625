package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	definitionExt  = ".toml"
	reloadDebounce = 250 * time.Millisecond
)

// LoadFile decodes one pipeline definition.
func LoadFile(path string) (*Pipeline, error) {
	p := &Pipeline{}
	if _, err := toml.DecodeFile(path, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPipeline, filepath.Base(path), err)
	}
	return p, nil
}

// LoadDir loads and validates every .toml file in dir, ordered by file
// name. A missing directory yields no pipelines. Pipeline names must be
// unique across the directory.
func LoadDir(dir string, nodes *Registry) ([]*Pipeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pipelines dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), definitionExt) {
			continue
		}
		files = append(files, e.Name())
	}
	slices.Sort(files)

	seen := make(map[string]string, len(files))
	out := make([]*Pipeline, 0, len(files))
	for _, name := range files {
		p, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := p.Validate(nodes); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("%w: %q defined in both %s and %s", ErrInvalidPipeline, p.Name, prev, name)
		}
		seen[p.Name] = name
		out = append(out, p)
	}
	return out, nil
}

// Watch reloads dir whenever a definition in it changes and passes every
// valid set to apply. An invalid set is logged and skipped so the last
// good set stays active. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, nodes *Registry, logger *zap.Logger, apply func([]*Pipeline)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pipelines watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching pipelines dir: %w", err)
	}

	// Editors write a file in several events; reload once they settle.
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, definitionExt) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			pipelines, err := LoadDir(dir, nodes)
			if err != nil {
				logger.Error("pipeline reload rejected, keeping previous set", zap.Error(err))
				continue
			}
			logger.Info("pipelines reloaded", zap.Int("count", len(pipelines)))
			apply(pipelines)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("pipelines watcher error", zap.Error(err))
		}
	}
}
