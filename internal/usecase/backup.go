package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/archivist/internal/domain"
	"github.com/semmidev/archivist/internal/infrastructure/metrics"
)

const (
	OperationCreate  = "create"
	OperationRestore = "restore"
	OperationCleanup = "cleanup"
)

// Backup orchestrates create, restore and cleanup for one BackupSet.
// Operations are serialized; a second call waits for the first to finish.
type Backup struct {
	set           domain.BackupSet
	databases     map[string]domain.Database
	localStorage  LocalStorage
	archiver      Archiver
	uploadTargets []UploadTarget
	notifier      Notifier
	logger        Logger
	now           func() time.Time

	mu      sync.Mutex
	stateMu sync.RWMutex
	state   State
}

type UploadTarget struct {
	Name    string
	Storage domain.Storage
}

// LocalStorage is the backup directory itself.
type LocalStorage interface {
	domain.Storage
	GetPath(filename string) string
}

// Archiver creates and opens backup files.
type Archiver interface {
	Create(c domain.Compression, dir, name string, skipFiles []string) (domain.Archive, error)
	Open(file string, skipFiles []string) domain.Archive
}

// Notifier receives a one-line summary after every create and restore.
type Notifier interface {
	SendNotification(message string) error
}

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type Option func(*Backup)

// WithUploadTargets copies every finished backup to the given targets and
// expires old copies there during cleanup.
func WithUploadTargets(targets ...UploadTarget) Option {
	return func(uc *Backup) {
		uc.uploadTargets = append(uc.uploadTargets, targets...)
	}
}

func WithNotifier(n Notifier) Option {
	return func(uc *Backup) {
		uc.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *Backup) {
		uc.now = now
	}
}

func NewBackup(
	set domain.BackupSet,
	databases []domain.Database,
	localStorage LocalStorage,
	archiver Archiver,
	logger Logger,
	opts ...Option,
) *Backup {
	set.SortDirectories()
	byName := make(map[string]domain.Database, len(databases))
	for _, db := range databases {
		byName[db.GetName()] = db
	}

	uc := &Backup{
		set:          set,
		databases:    byName,
		localStorage: localStorage,
		archiver:     archiver,
		logger:       logger,
		now:          time.Now,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *Backup) validate() error {
	uc.transition(StateValidatingConfig)
	if err := uc.set.Validate(); err != nil {
		return err
	}
	for _, id := range uc.set.Databases {
		if _, ok := uc.databases[id]; !ok {
			return fmt.Errorf("%w: no connection configured for database %q", domain.ErrConfig, id)
		}
	}
	return nil
}

// Create writes a new backup file holding every database dump and mapped
// directory of the set.
func (uc *Backup) Create(ctx context.Context) (*Report, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	start := uc.now()
	report := newReport(OperationCreate, start)
	uc.logger.Infof("[%s] Starting backup...", report.ID)

	if err := uc.validate(); err != nil {
		return report, uc.fail(report, fmt.Errorf("validate: %w", err))
	}
	uc.transition(StateCreating)

	arc, err := uc.archiver.Create(uc.set.Compression, uc.set.Directory, uc.set.BackupName(start), uc.set.SkipFiles)
	if err != nil {
		return report, uc.fail(report, fmt.Errorf("create archive: %w", err))
	}
	if err := arc.Open(); err != nil {
		return report, uc.fail(report, fmt.Errorf("open archive: %w", err))
	}
	report.Path = arc.Path()

	abort := func(err error) (*Report, error) {
		if cerr := arc.Close(); cerr != nil {
			uc.logger.Warnf("[%s] Failed to close archive: %v", report.ID, cerr)
		}
		os.Remove(arc.Path())
		return report, uc.fail(report, err)
	}

	for _, id := range uc.set.Databases {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		err := uc.dumpDatabase(ctx, arc, id)
		uc.record(report, ItemDatabase, id, err)
	}

	for _, m := range uc.set.Directories {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		uc.logger.Infof("[%s] Adding directory %s from %s", report.ID, m.Name, m.Directory.Path)
		err := arc.AddFolder(m.Name, m.Directory)
		uc.record(report, ItemDirectory, m.Name, err)
	}

	if err := arc.Close(); err != nil {
		os.Remove(arc.Path())
		return report, uc.fail(report, fmt.Errorf("close archive: %w", err))
	}

	info, err := os.Stat(arc.Path())
	if err != nil {
		return report, uc.fail(report, fmt.Errorf("%w: stat backup file: %w", domain.ErrFilesystem, err))
	}
	report.Size = info.Size()
	metrics.ArchiveSize.Set(float64(report.Size))

	uc.logger.Infof("[%s] Backup created: %s (%s)", report.ID, report.Path, humanize.Bytes(uint64(report.Size)))

	if len(uc.uploadTargets) > 0 {
		uc.uploadToTargets(ctx, report)
	}

	uc.finish(report)
	return report, nil
}

func (uc *Backup) dumpDatabase(ctx context.Context, arc domain.Archive, id string) error {
	db := uc.databases[id]
	return uc.withStagingFile(id, func(path string) error {
		uc.logger.Infof("Dumping %s database %s to %s", db.GetType(), id, path)
		if err := db.Dump(ctx, path); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		if info, err := os.Stat(path); err == nil {
			uc.logger.Infof("Dump of %s complete, size: %s", id, humanize.Bytes(uint64(info.Size())))
		}
		if err := arc.AddFile(domain.SQLNamespace, path); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		return nil
	})
}

// Restore replays every database dump and extracts every mapped directory
// found in the given backup file. file may be a path or a name inside the
// backup directory.
func (uc *Backup) Restore(ctx context.Context, file string) (*Report, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	report := newReport(OperationRestore, uc.now())
	uc.logger.Infof("[%s] Starting restore of %s...", report.ID, file)

	if err := uc.validate(); err != nil {
		return report, uc.fail(report, fmt.Errorf("validate: %w", err))
	}
	uc.transition(StateRestoring)

	path, err := uc.resolve(file)
	if err != nil {
		return report, uc.fail(report, err)
	}
	report.Path = path

	arc := uc.archiver.Open(path, uc.set.SkipFiles)
	if err := arc.Open(); err != nil {
		return report, uc.fail(report, fmt.Errorf("open archive: %w", err))
	}
	defer func() {
		if err := arc.Close(); err != nil {
			uc.logger.Warnf("[%s] Failed to close archive: %v", report.ID, err)
		}
	}()
	if info, err := os.Stat(path); err == nil {
		report.Size = info.Size()
	}

	for _, id := range uc.set.Databases {
		if err := ctx.Err(); err != nil {
			return report, uc.fail(report, err)
		}
		err := uc.restoreDatabase(ctx, arc, id)
		uc.record(report, ItemDatabase, id, err)
	}

	for _, m := range uc.set.Directories {
		if err := ctx.Err(); err != nil {
			return report, uc.fail(report, err)
		}
		uc.logger.Infof("[%s] Extracting directory %s to %s", report.ID, m.Name, m.Directory.Path)
		err := arc.ExtractFolder(m.Name, m.Directory.Path)
		uc.record(report, ItemDirectory, m.Name, err)
	}

	uc.finish(report)
	return report, nil
}

func (uc *Backup) restoreDatabase(ctx context.Context, arc domain.Archive, id string) error {
	db := uc.databases[id]
	return uc.withStagingFile(id, func(path string) error {
		if err := arc.ExtractFile(domain.DumpEntry(id), path); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		uc.logger.Infof("Restoring %s database %s from %s", db.GetType(), id, path)
		if err := db.Restore(ctx, path); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		return nil
	})
}

// resolve tries file as given first, then inside the backup directory.
func (uc *Backup) resolve(file string) (string, error) {
	for _, candidate := range []string{file, uc.localStorage.GetPath(file)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrNotFound, file)
}

func (uc *Backup) record(report *Report, kind ItemKind, name string, err error) {
	report.add(kind, name, err)
	if err != nil {
		uc.logger.Errorf("[%s] %s %s failed: %v", report.ID, kind, name, err)
		metrics.ItemFailures.WithLabelValues(report.Operation, string(kind)).Inc()
		return
	}
	uc.logger.Infof("[%s] %s %s done", report.ID, kind, name)
}

func (uc *Backup) fail(report *Report, err error) error {
	report.Duration = uc.now().Sub(report.StartedAt)
	uc.transition(StateFailed)
	uc.logger.Errorf("[%s] %s failed: %v", report.ID, report.Operation, err)
	metrics.ObserveOperation(report.Operation, metrics.StatusFailed, report.Duration)
	uc.notify(report, fmt.Sprintf("❌ %s failed: %v", report.Operation, err))
	return err
}

func (uc *Backup) finish(report *Report) {
	report.Duration = uc.now().Sub(report.StartedAt)
	uc.transition(StateDone)

	took := report.Duration.Round(time.Millisecond)
	status := metrics.StatusSuccess
	if failed := report.Failed(); len(failed) > 0 {
		status = metrics.StatusPartial
		uc.logger.Warnf("[%s] %s completed with %d failed item(s) in %s", report.ID, report.Operation, len(failed), took)
		uc.notify(report, fmt.Sprintf("⚠️ %s of %s completed with %d failed item(s) in %s", report.Operation, filepath.Base(report.Path), len(failed), took))
	} else {
		uc.logger.Infof("[%s] %s completed in %s", report.ID, report.Operation, took)
		uc.notify(report, fmt.Sprintf("✅ %s of %s completed in %s", report.Operation, filepath.Base(report.Path), took))
	}
	metrics.ObserveOperation(report.Operation, status, report.Duration)
}

func (uc *Backup) notify(report *Report, message string) {
	if uc.notifier == nil || report.Operation == OperationCleanup {
		return
	}
	if err := uc.notifier.SendNotification(message); err != nil {
		uc.logger.Warnf("[%s] Failed to send notification: %v", report.ID, err)
	}
}

func (uc *Backup) uploadToTargets(ctx context.Context, report *Report) {
	var wg sync.WaitGroup
	filename := filepath.Base(report.Path)

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			uc.logger.Infof("[%s] Uploading to %s...", report.ID, t.Name)
			if err := t.Storage.Upload(ctx, report.Path, filename); err != nil {
				uc.logger.Errorf("[%s] Failed to upload to %s: %v", report.ID, t.Name, err)
			} else {
				uc.logger.Infof("[%s] Successfully uploaded to %s", report.ID, t.Name)
			}
		}(target)
	}

	wg.Wait()
}
