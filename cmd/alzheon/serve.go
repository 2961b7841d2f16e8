package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/alzheon/alzheon/internal/domain/cognitive"
	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/internal/domain/reminder"
	"github.com/alzheon/alzheon/internal/platform/auth"
	"github.com/alzheon/alzheon/internal/platform/middleware"
	"github.com/alzheon/alzheon/internal/platform/scheduling"
)

const (
	jsonBodyLimit  = "1M"
	requestTimeout = 30 * time.Second
	submissionPath = "/api/asignaciones/:id/submissions"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and the reminder worker unless --no-worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			noWorker, _ := cmd.Flags().GetBool("no-worker")
			return runServer(!noWorker)
		},
	}
	cmd.Flags().Bool("no-worker", false, "do not run the reminder worker in this process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the reminder worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func remindOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind-once",
		Short: "Run a single reminder pass and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.dispatcher.RunOnce(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return res.QueryError
		},
	}
}

func runServer(withWorker bool) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	e := newEcho(a)

	var worker *scheduling.Handle
	if withWorker {
		worker = scheduling.Start(ctx, "reminders", cfg.ReminderInterval, a.dispatcher.Job(), logger)
		logger.Info().Dur("interval", cfg.ReminderInterval).Msg("reminder worker started")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if worker != nil {
		worker.Stop()
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	h := scheduling.Start(ctx, "reminders", cfg.ReminderInterval, a.dispatcher.Job(), logger)
	logger.Info().Dur("interval", cfg.ReminderInterval).Msg("reminder worker started")

	<-ctx.Done()
	logger.Info().Msg("stopping reminder worker")
	h.Stop()
	return nil
}

// newEcho builds the HTTP server with its middleware chain and routes.
func newEcho(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.MaxUploadSize))
	e.Use(middleware.RequestTimeout(requestTimeout, isSubmissionUpload))

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:  issuer,
		Skipper: auth.AuthSkipper,
	}))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", a.stores.health)

	api := e.Group("/api")
	authLimiter := middleware.RateLimit(middleware.DefaultAuthRateLimitConfig())

	identity.NewHandler(a.identity, issuer, cfg.CookieSecure).RegisterRoutes(api, authLimiter)
	reminder.NewHandler(a.reminders, a.logger).RegisterRoutes(api)
	cognitive.NewHandler(a.cognitive, a.uploads, a.blobs).RegisterRoutes(api)

	return e
}

// isSubmissionUpload skips the request timeout for result uploads, which
// bound their own analysis call.
func isSubmissionUpload(c echo.Context) bool {
	return c.Request().Method == http.MethodPost && c.Path() == submissionPath
}
