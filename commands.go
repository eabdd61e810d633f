package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatwarden/api"
	"chatwarden/bot"
	"chatwarden/utils/database"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the expiry scheduler and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := commonRun()
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store, closeStore, err := openActivityStore(ctx, cfg, db, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			b, err := bot.New(cfg, db, store, logger)
			if err != nil {
				return err
			}
			var server *api.Server
			if cfg.HTTPAddr != "" {
				server, err = api.New(cfg.APIToken, b.Actions, b.Ranks, b.Incidents, logger)
				if err != nil {
					return fmt.Errorf("admin api on %s: %w", cfg.HTTPAddr, err)
				}
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return b.Run(ctx) })
			if server != nil {
				g.Go(func() error { return server.Run(ctx, cfg.HTTPAddr) })
			}
			return g.Wait()
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := commonRun()
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := database.SchemaVersion(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("database is up to date", "component", programName, "path", cfg.DatabasePath, "version", version)
			return nil
		},
	}
}
