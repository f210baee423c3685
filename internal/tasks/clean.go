package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/haunt/internal/state"
	"github.com/poltergeist/haunt/pkg/logger"
)

// insideRoot resolves dir under root and rejects root itself and anything
// outside it
func insideRoot(root, dir string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(dir))
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to remove %q: not inside the project", dir)
	}
	return full, nil
}

// runClean removes the build directory, and haunt's state with CleanState
func (e *Env) runClean(ctx context.Context) error {
	cfg := e.Config()
	log := e.log(ctx)

	dirs := []string{cfg.Paths.Dest.Dir}
	if e.CleanState {
		dirs = append(dirs, state.Dir)
	}

	for _, dir := range dirs {
		full, err := insideRoot(e.Root, dir)
		if err != nil {
			return fmt.Errorf("clean: %w", err)
		}
		if _, err := os.Stat(full); os.IsNotExist(err) {
			log.Debug("Nothing to clean", logger.WithField("dir", dir))
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
		log.Info("Removed directory", logger.WithField("dir", dir))
	}
	return nil
}
