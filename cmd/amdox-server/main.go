// Package main is the entrypoint for the Amdox certificate server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/preesha73/Amdox-Website/internal/api"
	"github.com/preesha73/Amdox-Website/internal/api/middleware"
	"github.com/preesha73/Amdox-Website/internal/artifacts"
	"github.com/preesha73/Amdox-Website/internal/auth"
	"github.com/preesha73/Amdox-Website/internal/certificates"
	"github.com/preesha73/Amdox-Website/internal/config"
	"github.com/preesha73/Amdox-Website/internal/db"
	"github.com/preesha73/Amdox-Website/internal/maintenance"
	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dotenvErr := config.LoadDotEnv()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if dotenvErr != nil {
		logger.Error().Err(dotenvErr).Msg("Failed to load .env file")
		return 1
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Amdox server")

	// Load configuration
	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Open certificate store
	store, closeStore, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to open certificate store")
		return 1
	}
	defer closeStore()

	// PDF cache
	cache, err := artifacts.New(ctx, artifacts.Config{
		Backend:  cfg.CertsBackend,
		Dir:      cfg.CertsDir,
		Bucket:   cfg.CertsS3Bucket,
		Prefix:   cfg.CertsS3Prefix,
		Region:   cfg.CertsS3Region,
		Endpoint: cfg.CertsS3Endpoint,
	})
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.CertsBackend).Msg("Failed to initialize certificate cache")
		return 1
	}

	// Metrics
	m, err := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize token verifier")
		return 1
	}

	limiters, err := middleware.NewLimiters(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize rate limiter store")
		return 1
	}
	defer limiters.Close()

	renderer := certificates.NewChromeRenderer(cfg.ChromePath)

	routerCfg := api.ConfigFromServer(cfg)
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate

	router, err := api.NewRouter(routerCfg, api.Services{
		Store:    store,
		Issuer:   certificates.NewIssuer(store, m, logger),
		Verifier: certificates.NewVerifier(store, m, logger),
		PDFs:     certificates.NewPDFService(store, cache, renderer, cfg.RenderTimeout, m, logger),
		Tokens:   tokens,
		Limiters: limiters,
		Metrics:  m,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// Start the cache janitor for the local backend
	if local, ok := cache.(*artifacts.LocalStore); ok {
		janitor := maintenance.NewCacheJanitor(local, maintenance.DefaultTempMaxAge, logger)
		if err := janitor.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start cache janitor")
		} else {
			defer janitor.Stop()
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// PDF responses may wait on a full render.
		WriteTimeout: cfg.RenderTimeout + 30*time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
