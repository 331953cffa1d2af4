package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexlx/nexushub/config"
	"github.com/rexlx/nexushub/forum"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Flags override the environment when set.
	addrFlag     string
	dbFlag       string
	logLevelFlag string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "nexushub",
	Short:         "Nexus Hub - a minimal discussion forum",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = addrFlag
		}
		if cmd.Flags().Changed("db") {
			cfg.DatabaseURL = dbFlag
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevelFlag
		}
		return initLogger(cfg.LogLevel, cfg.LogFormat)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the forum HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables without touching existing data",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := forum.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("database tables created")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset-db",
	Short: "Drop and recreate all tables (destroys every user, topic and reply)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := forum.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Reset(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("database tables recreated")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Listen address (default $FORUM_ADDR or :8080)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Database URL: postgres://... or sqlite://<path> (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (default $FORUM_LOG_LEVEL or info)")

	rootCmd.AddCommand(serveCmd, migrateCmd, resetCmd)
}

func serve(ctx context.Context) error {
	store, err := forum.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Msg("Successfully connected to the database.")

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	svc := forum.NewService(store, cfg.BcryptCost, log.Logger)
	sessions := forum.NewSessionManager(store, forum.SessionConfig{
		Lifetime: cfg.SessionLifetime,
		Secure:   cfg.CookieSecure,
	})
	if !cfg.CookieSecure {
		log.Warn().Msg("session cookie is not marked Secure; use only over plain-HTTP development setups")
	}
	handlers, err := forum.NewHandlers(svc, sessions, log.Logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go forum.CleanupSessions(cleanupCtx, store, cfg.SessionCleanup, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Starting forum server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Server exiting")
	return nil
}
