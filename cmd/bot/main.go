package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"attendance-bot/internal/auth"
	"attendance-bot/internal/bot"
	"attendance-bot/internal/config"
	"attendance-bot/internal/database"
	"attendance-bot/internal/handlers"
	"attendance-bot/internal/marking"
	"attendance-bot/internal/metrics"
	"attendance-bot/internal/scheduler"
	"attendance-bot/internal/session"
	"attendance-bot/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "attendance-bot",
		Short:         "Telegram bot that takes attendance in group chats",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}

			zapLogger, err := logger.New(&cfg.Logger, logger.DefaultServiceName)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			zap.ReplaceGlobals(zapLogger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(migrateCmd(&cfg))

	err := rootCmd.Execute()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context, cfg *config.Config) (err error) {
	if err := cfg.RequireBot(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	zap.L().Info("Running database migrations...")
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	b, err := bot.New(cfg.BotToken, cfg.APIEndpoint, cfg.BotDebug)
	if err != nil {
		return err
	}

	authz := auth.New(db)
	sched := scheduler.New(db, logger.Component(zap.L(), "scheduler"), scheduler.WithLocation(cfg.Location))
	h := handlers.New(handlers.Deps{
		Bot:       b,
		Store:     db,
		Auth:      authz,
		Sessions:  session.New(db, logger.Component(zap.L(), "session"), session.WithLocation(cfg.Location)),
		Marking:   marking.New(db, authz, nil),
		Scheduler: sched,
	})

	// Triggers must be registered before the engine starts.
	if _, err := sched.Restore(ctx); err != nil {
		return err
	}

	updates, err := b.Updates(cfg.UpdateTimeout)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		// The loop also ends when Telegram closes the update stream.
		defer stop()
		return handlers.NewRouter(h).Run(gctx, updates, sched.Fires())
	})

	g.Go(func() error {
		<-gctx.Done()
		b.StopUpdates()
		return nil
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, logger.Component(zap.L(), "metrics"))
		})
	}

	zap.L().Info("Bot started successfully", zap.String("username", b.Self.UserName))

	if err := g.Wait(); err != nil {
		return err
	}
	zap.L().Info("Bot stopped")
	return nil
}
