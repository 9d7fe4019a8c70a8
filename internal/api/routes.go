// Package api provides the HTTP API for the Amdox certificate service.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/preesha73/Amdox-Website/internal/api/handlers"
	"github.com/preesha73/Amdox-Website/internal/api/middleware"
	"github.com/preesha73/Amdox-Website/internal/config"
	studentimport "github.com/preesha73/Amdox-Website/internal/import"
	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart boundaries and form fields.
const multipartOverhead = 1 << 20

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	ForceHTTPS     bool
	// RateLimitRequests per RateLimitPeriod applies to every /api route.
	RateLimitRequests int64
	RateLimitPeriod   string
	// VerifyRateLimit and PDFRateLimit are per-hour limits on the certificate routes.
	VerifyRateLimit int64
	PDFRateLimit    int64
	ImportMaxBytes  int64
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "15m",
		VerifyRateLimit:   50,
		PDFRateLimit:      20,
		ImportMaxBytes:    studentimport.DefaultMaxBytes,
		Version:           "dev",
	}
}

// ConfigFromServer maps server configuration onto router configuration.
func ConfigFromServer(cfg config.ServerConfig) Config {
	return Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.AllowedOrigins,
		ForceHTTPS:        cfg.ForceHTTPS,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		VerifyRateLimit:   cfg.VerifyRateLimit,
		PDFRateLimit:      cfg.PDFRateLimit,
		ImportMaxBytes:    cfg.ImportMaxBytes,
	}
}

// Services are the collaborators the router dispatches to.
type Services struct {
	Store    handlers.DatabaseHealthChecker
	Issuer   handlers.CertificateIssuer
	Verifier handlers.CertificateVerifier
	PDFs     handlers.CertificatePDFProvider
	Tokens   middleware.TokenVerifier
	Limiters *middleware.Limiters
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.PrometheusMetrics
}

func (s Services) validate() error {
	var errs []error
	if s.Issuer == nil {
		errs = append(errs, errors.New("issuer is required"))
	}
	if s.Verifier == nil {
		errs = append(errs, errors.New("verifier is required"))
	}
	if s.PDFs == nil {
		errs = append(errs, errors.New("pdf service is required"))
	}
	if s.Tokens == nil {
		errs = append(errs, errors.New("token verifier is required"))
	}
	if s.Limiters == nil {
		errs = append(errs, errors.New("rate limiters are required"))
	}
	return errors.Join(errs...)
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, svc Services, logger zerolog.Logger) (*Router, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	corsMiddleware, err := middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger)
	if err != nil {
		return nil, err
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.HTTPSRedirect(cfg.ForceHTTPS))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(corsMiddleware)

	r.Engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	// Health check endpoints (no auth required)
	handlers.NewHealthHandler(svc.Store, svc.Limiters, logger).RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	if svc.Metrics != nil {
		metricsHandler, err := svc.Metrics.Handler()
		if err != nil {
			return nil, err
		}
		r.Engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Rate limiting
	generalLimit, err := svc.Limiters.NewRateLimiter("api", cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	verifyLimit, err := svc.Limiters.NewRateLimiter("verify", cfg.VerifyRateLimit, "1h")
	if err != nil {
		return nil, err
	}
	pdfLimit, err := svc.Limiters.NewRateLimiter("pdf", cfg.PDFRateLimit, "1h")
	if err != nil {
		return nil, err
	}

	api := r.Engine.Group("/api", generalLimit)

	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate).RegisterRoutes(api)

	// Public certificate routes
	handlers.NewCertificatesHandler(svc.Verifier, svc.PDFs, logger).
		RegisterRoutes(api, handlers.CertificateRouteLimits{Verify: verifyLimit, PDF: pdfLimit})

	// Admin routes (JWT with admin role required)
	importMaxBytes := cfg.ImportMaxBytes
	if importMaxBytes <= 0 {
		importMaxBytes = studentimport.DefaultMaxBytes
	}
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(svc.Tokens, logger))
	admin.Use(middleware.RequireRole(models.UserRoleAdmin))

	handlers.NewImportHandler(
		studentimport.NewParser(studentimport.ParseOptions{MaxBytes: importMaxBytes}),
		studentimport.NewValidator(),
		svc.Issuer,
		logger,
	).RegisterRoutes(admin, middleware.BodyLimitMiddleware(importMaxBytes+multipartOverhead))

	r.logger.Info().
		Str("rate_limiter", svc.Limiters.Backend()).
		Bool("metrics", svc.Metrics != nil).
		Msg("API router initialized")
	return r, nil
}
