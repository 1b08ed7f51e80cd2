package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/semmidev/archivist/internal/infrastructure/metrics"
)

const localTarget = "local"

// Cleanup deletes backups older than the retention window from the backup
// directory and from every upload target.
func (uc *Backup) Cleanup(ctx context.Context) (CleanupResult, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	start := uc.now()
	report := newReport(OperationCleanup, start)
	result := CleanupResult{Remote: map[string]int{}}

	if err := uc.validate(); err != nil {
		return result, uc.fail(report, fmt.Errorf("validate: %w", err))
	}
	uc.transition(StateCleaningUp)

	cutoff := start.Add(-uc.set.ExpireTime)
	uc.logger.Infof("Starting cleanup, retention: %s, cutoff: %s", uc.set.ExpireTime, cutoff.Format(time.RFC3339))

	files, err := uc.localStorage.GetOldFiles(ctx, cutoff)
	if err != nil {
		return result, uc.fail(report, fmt.Errorf("list backups: %w", err))
	}
	result.Expired = len(files)
	result.Deleted = uc.deleteFiles(ctx, UploadTarget{Name: localTarget, Storage: uc.localStorage}, files)

	if len(uc.uploadTargets) > 0 {
		uc.cleanupTargets(ctx, cutoff, result.Remote)
	}

	report.Duration = uc.now().Sub(start)
	uc.transition(StateDone)
	metrics.ObserveOperation(OperationCleanup, metrics.StatusSuccess, report.Duration)
	uc.logger.Infof("Cleanup completed: %d expired, %d deleted", result.Expired, result.Deleted)
	return result, nil
}

func (uc *Backup) cleanupTargets(ctx context.Context, cutoff time.Time, deleted map[string]int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			n, err := uc.cleanupTarget(ctx, t, cutoff)
			if err != nil {
				uc.logger.Errorf("Cleanup failed for %s: %v", t.Name, err)
				return
			}
			mu.Lock()
			deleted[t.Name] = n
			mu.Unlock()
		}(target)
	}

	wg.Wait()
}

func (uc *Backup) cleanupTarget(ctx context.Context, target UploadTarget, cutoff time.Time) (int, error) {
	files, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		files, err = uc.fallbackListFiles(ctx, target, cutoff)
		if err != nil {
			return 0, err
		}
	}
	return uc.deleteFiles(ctx, target, files), nil
}

func (uc *Backup) deleteFiles(ctx context.Context, target UploadTarget, files []string) int {
	deleted := 0
	for _, filename := range files {
		uc.logger.Infof("Deleting old backup from %s: %s", target.Name, filename)

		if err := target.Storage.Delete(ctx, filename); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", filename, target.Name, err)
		} else {
			deleted++
		}
	}

	metrics.RetentionDeletes.WithLabelValues(target.Name).Add(float64(deleted))
	uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, target.Name)
	return deleted
}

// fallbackListFiles is used for targets that cannot report file ages; the
// age is read from the timestamp in the file name instead.
func (uc *Backup) fallbackListFiles(ctx context.Context, target UploadTarget, cutoff time.Time) ([]string, error) {
	files, err := target.Storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	oldFiles := make([]string, 0)
	for _, filename := range files {
		timestamp, err := extractTimestamp(filename)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", filename, err)
			continue
		}

		if timestamp.Before(cutoff) {
			oldFiles = append(oldFiles, filename)
		}
	}

	return oldFiles, nil
}
