package app

import (
	"context"
	"fmt"

	"github.com/semmidev/archivist/internal/adapter/archive"
	"github.com/semmidev/archivist/internal/adapter/database"
	"github.com/semmidev/archivist/internal/adapter/storage"
	"github.com/semmidev/archivist/internal/config"
	"github.com/semmidev/archivist/internal/domain"
	"github.com/semmidev/archivist/internal/infrastructure/logger"
	"github.com/semmidev/archivist/internal/infrastructure/metrics"
	"github.com/semmidev/archivist/internal/infrastructure/scheduler"
	"github.com/semmidev/archivist/internal/usecase"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	databases     []domain.Database
	uploadTargets []usecase.UploadTarget
	backup        *usecase.Backup
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	set := cfg.BackupSet()
	log.Infof("Starting %s with %d database(s) and %d directory mapping(s)", cfg.App.Name, len(set.Databases), len(set.Directories))

	databases, err := initializeDatabases(cfg)
	if err != nil {
		return nil, err
	}

	localStorage, err := storage.NewLocal(set.Directory, storage.WithFilter(archive.HasArchiveExtension))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	uploadTargets, notifier := initializeUploadTargets(ctx, cfg, log)

	opts := []usecase.Option{usecase.WithUploadTargets(uploadTargets...)}
	if notifier != nil {
		opts = append(opts, usecase.WithNotifier(notifier))
	}

	return &App{
		config:        cfg,
		logger:        log,
		databases:     databases,
		uploadTargets: uploadTargets,
		backup:        usecase.NewBackup(set, databases, localStorage, archive.Factory{}, log.Named("backup"), opts...),
	}, nil
}

func initializeDatabases(cfg *config.Config) ([]domain.Database, error) {
	var databases []domain.Database
	for _, conn := range cfg.ConnectionDescriptors() {
		db, err := database.New(conn)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", conn.ID, err)
		}
		databases = append(databases, db)
	}
	return databases, nil
}

// initializeUploadTargets skips targets that fail to initialize. The first
// telegram target also receives run summaries.
func initializeUploadTargets(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]usecase.UploadTarget, usecase.Notifier) {
	var (
		targets  []usecase.UploadTarget
		notifier usecase.Notifier
	)

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		var stor domain.Storage

		switch targetCfg.Type {
		case "gdrive":
			gdrive, err := storage.NewGDrive(ctx, storage.GDriveConfig{
				CredentialsFile: targetCfg.CredentialsFile,
				TokenFile:       targetCfg.TokenFile,
				FolderID:        targetCfg.FolderID,
			}, archive.HasArchiveExtension)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			stor = gdrive
			log.Infof("✓ Google Drive upload enabled")

		case "s3":
			s3, err := storage.NewS3(ctx, storage.S3Config{
				Region:    targetCfg.Region,
				Bucket:    targetCfg.Bucket,
				Prefix:    targetCfg.Prefix,
				AccessKey: targetCfg.AccessKey,
				SecretKey: targetCfg.SecretKey,
				Endpoint:  targetCfg.Endpoint,
			}, archive.HasArchiveExtension)
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			stor = s3
			log.Infof("✓ AWS S3 upload enabled (bucket: %s)", targetCfg.Bucket)

		case "telegram":
			telegram, err := storage.NewTelegram(storage.TelegramConfig{
				BotToken:   targetCfg.BotToken,
				ChatID:     targetCfg.ChatID,
				SendFile:   targetCfg.SendFile,
				NotifyOnly: targetCfg.NotifyOnly,
			})
			if err != nil {
				log.Errorf("Failed to initialize Telegram: %v", err)
				continue
			}
			if notifier == nil {
				notifier = telegram
			}
			stor = telegram
			log.Infof("✓ Telegram upload enabled")

		case "local":
			local, err := storage.NewLocal(targetCfg.Path, storage.WithFilter(archive.HasArchiveExtension))
			if err != nil {
				log.Errorf("Failed to initialize local mirror %s: %v", targetCfg.Path, err)
				continue
			}
			stor = local
			log.Infof("✓ Local mirror enabled (%s)", targetCfg.Path)

		default:
			log.Warnf("Unknown upload target type: %s", targetCfg.Type)
			continue
		}

		targets = append(targets, usecase.UploadTarget{
			Name:    targetCfg.Label(),
			Storage: stor,
		})
	}

	return targets, notifier
}

func (a *App) Create(ctx context.Context) (*usecase.Report, error) {
	return a.backup.Create(ctx)
}

func (a *App) Restore(ctx context.Context, file string) (*usecase.Report, error) {
	return a.backup.Restore(ctx, file)
}

func (a *App) Cleanup(ctx context.Context) (usecase.CleanupResult, error) {
	return a.backup.Cleanup(ctx)
}

// Ping checks every configured database and logs the outcome. It returns
// the number of unreachable databases.
func (a *App) Ping(ctx context.Context) int {
	failed := 0
	for _, db := range a.databases {
		if err := db.Ping(ctx); err != nil {
			a.logger.Errorf("Failed to connect to %s: %v", db.GetName(), err)
			failed++
			continue
		}
		a.logger.Infof("✓ Connected to %s (%s)", db.GetName(), db.GetType())
	}
	return failed
}

// Serve runs scheduled backups and cleanups until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Ping(ctx)

	sched := scheduler.New(a.logger.Named("scheduler"))
	schedule := a.config.Schedule

	if err := sched.AddJob(usecase.OperationCreate, schedule.Backup, func(ctx context.Context) error {
		a.logger.Infof("=== Triggered scheduled backup ===")
		_, err := a.backup.Create(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	if err := sched.AddJob(usecase.OperationCleanup, schedule.Cleanup, func(ctx context.Context) error {
		_, err := a.backup.Cleanup(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	metricsErr := make(chan error, 1)
	if a.config.Metrics.Enabled {
		go func() {
			a.logger.Infof("Serving metrics on %s", a.config.Metrics.Address)
			metricsErr <- metrics.Serve(ctx, a.config.Metrics.Address)
		}()
	}

	sched.Start()
	defer sched.Stop()
	a.logger.Infof("Scheduler started: backup %q, cleanup %q", schedule.Backup, schedule.Cleanup)
	a.logger.Infof("Backup destinations: local + %d remote target(s)", len(a.uploadTargets))

	select {
	case <-ctx.Done():
		return nil
	case err := <-metricsErr:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.logger.Close()
}
