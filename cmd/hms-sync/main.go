package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms-sync/internal/config"
	"github.com/hms/hms-sync/internal/domain/hospital"
	"github.com/hms/hms-sync/internal/platform/backend"
	"github.com/hms/hms-sync/internal/platform/db"
	"github.com/hms/hms-sync/internal/platform/journal"
	"github.com/hms/hms-sync/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hms-sync",
		Short:        "Hospital data sync service and CLI",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(doctorsCmd())
	rootCmd.AddCommand(patientsCmd())
	rootCmd.AddCommand(appointmentsCmd())
	rootCmd.AddCommand(journalCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newBackend builds the REST client. The static token wins over the token
// file so an operator can override a stale login.
func newBackend(cfg *config.Config, logger zerolog.Logger) (*backend.Client, error) {
	tokens := backend.ChainTokens{backend.StaticToken(cfg.AuthToken)}
	if cfg.AuthTokenFile != "" {
		tokens = append(tokens, backend.FileToken{Path: cfg.AuthTokenFile})
	}
	return backend.New(cfg.BackendURL,
		backend.WithTokenSource(tokens),
		backend.WithTimeout(cfg.RequestTimeout),
		backend.WithLogger(logger.With().Str("component", "backend").Logger()),
	)
}

// routerDeps carries the optional parts of the server. Pinger and Runs are
// nil when the journal is disabled.
type routerDeps struct {
	Store  *hospital.Store
	Pinger db.Pinger
	Runs   *journal.Journal
}

func newRouter(cfg *config.Config, logger zerolog.Logger, deps routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		if deps.Store.Err() != "" {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  status,
			"loading": deps.Store.IsLoading(),
			"error":   deps.Store.Err(),
		})
	})
	if deps.Pinger != nil {
		e.GET("/health/db", db.HealthHandler(deps.Pinger))
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	hospital.NewHandler(deps.Store).RegisterRoutes(apiV1)
	if deps.Runs != nil {
		journal.NewHandler(deps.Runs).RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.IsDev())

	client, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create backend client")
	}

	deps := routerDeps{}
	opts := []hospital.StoreOption{
		hospital.WithLogger(logger.With().Str("component", "store").Logger()),
		hospital.WithReconcileDelay(cfg.ReconcileDelay),
	}

	ctx := context.Background()
	if cfg.JournalEnabled() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to journal database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to journal database")

		runs := journal.New(pool)
		n, err := runs.Migrate(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("journal migration failed")
		}
		if n > 0 {
			logger.Info().Int("applied", n).Msg("journal migrations applied")
		}
		deps.Pinger, deps.Runs = pool, runs
		opts = append(opts, hospital.WithRecorder(newJournalRecorder(runs)))
	}

	store := hospital.NewStore(client, opts...)
	defer store.Close()
	deps.Store = store

	go func() {
		if err := store.FetchAll(ctx); err != nil && !errors.Is(err, hospital.ErrSuperseded) {
			logger.Warn().Err(err).Msg("initial fetch-all failed")
		}
	}()

	e := newRouter(cfg, logger, deps)

	addr := fmt.Sprintf(":%s", cfg.Port)
	go func() {
		logger.Info().Str("addr", addr).Str("backend", client.BaseURL()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	store.Flush()
	logger.Info().Msg("server stopped")
	return nil
}
