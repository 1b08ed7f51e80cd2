package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/semmidev/archivist/internal/adapter/storage"
	"github.com/semmidev/archivist/internal/app"
	"github.com/semmidev/archivist/internal/config"
	"github.com/semmidev/archivist/internal/infrastructure/logger"
	"github.com/semmidev/archivist/internal/usecase"
)

type options struct {
	configPath string
	strict     bool
}

// partialError is returned in strict mode when some items failed.
type partialError struct {
	operation string
	failed    int
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%s finished with %d failed item(s)", e.operation, e.failed)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "archivist",
		Short: "Back up databases and directories into versioned archive files",
		Long: `Archivist dumps MySQL, PostgreSQL and SQLite databases together with
mapped directories into a single tar, tar.gz, tar.bz2 or zip file, restores
such files, and deletes backups older than the retention window.

Examples:
  # Create a backup now
  archivist create --config configs/config.yaml

  # Restore a backup by name from the backup directory
  archivist restore 2024-03-01T101500+0000_backup.tar.gz

  # Run scheduled backups and cleanups with a metrics endpoint
  archivist serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&opts.strict, "strict", false, "exit with status 2 when any database or directory failed")

	rootCmd.AddCommand(
		newCreateCmd(opts),
		newRestoreCmd(opts),
		newCleanupCmd(opts),
		newServeCmd(opts),
		newDriveAuthCmd(opts),
	)
	return rootCmd
}

func newCreateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Create(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Created %s (%s)\n", report.Path, humanize.Bytes(uint64(report.Size)))
				return opts.check(cmd, report)
			})
		},
	}
}

func newRestoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore databases and directories from a backup file",
		Long: `Restore replays every configured database dump and extracts every mapped
directory. <file> is a path, or a file name inside the backup directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Restore(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Restored %s\n", report.Path)
				return opts.check(cmd, report)
			})
		},
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				result, err := a.Cleanup(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Expired: %d, deleted: %d\n", result.Expired, result.Deleted)
				for name, n := range result.Remote {
					cmd.Printf("  %s: %d deleted\n", name, n)
				}
				return nil
			})
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled backups and cleanups until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newDriveAuthCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Authorize the gdrive upload target and store its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var target *config.UploadTarget
			for i := range cfg.UploadTargets {
				if cfg.UploadTargets[i].Type == "gdrive" && cfg.UploadTargets[i].TokenFile != "" {
					target = &cfg.UploadTargets[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no gdrive upload target with a token_file is configured")
			}

			log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
			if err != nil {
				return err
			}
			defer log.Close()

			oauthCfg, err := storage.DriveOAuthConfig(target.CredentialsFile)
			if err != nil {
				return err
			}
			oauthCfg.RedirectURL = "http://" + addr + "/auth/google/callback"

			server, err := app.NewDriveAuthServer(oauthCfg, target.TokenFile, log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return server.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8085", "address of the local consent server")
	return cmd
}

func withApp(parent context.Context, opts *options, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return fn(ctx, application)
}

func (o *options) check(cmd *cobra.Command, report *usecase.Report) error {
	failed := report.Failed()
	if len(failed) == 0 {
		return nil
	}
	for _, item := range failed {
		cmd.Printf("  failed %s %s: %v\n", item.Kind, item.Name, item.Err)
	}
	if o.strict {
		return &partialError{operation: report.Operation, failed: len(failed)}
	}
	return nil
}
