package usecase

import (
	"errors"
	"fmt"
	"os"

	"github.com/semmidev/archivist/internal/domain"
)

// withStagingFile hands fn the staging path for a connection and removes the
// file on every exit path. A failed removal is logged, never returned.
func (uc *Backup) withStagingFile(connectionID string, fn func(path string) error) error {
	path := uc.set.StagingPath(connectionID)
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			uc.logger.Errorf("%v", fmt.Errorf("%w: failed to remove staging file %s: %w", domain.ErrFilesystem, path, err))
		}
	}()
	return fn(path)
}
