// Package config provides configuration management for the Amdox server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Certificate cache backends.
const (
	CertsBackendLocal = "local"
	CertsBackendS3    = "s3"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	JWTSecret      string
	AllowedOrigins []string
	ForceHTTPS     bool

	RedisURL          string
	RateLimitRequests int64
	RateLimitPeriod   string
	VerifyRateLimit   int64
	PDFRateLimit      int64

	ImportMaxBytes int64

	CertsBackend    string
	CertsDir        string
	CertsS3Bucket   string
	CertsS3Prefix   string
	CertsS3Region   string
	CertsS3Endpoint string
	ChromePath      string
	RenderTimeout   time.Duration
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":" + getEnvString("PORT", "5000")
	}

	storeDriver := strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))

	rateLimitRequests := getEnvInt64("RATE_LIMIT_REQUESTS", 100)
	if rateLimitRequests <= 0 {
		rateLimitRequests = 100
	}
	verifyRateLimit := getEnvInt64("VERIFY_RATE_LIMIT", 50)
	if verifyRateLimit <= 0 {
		verifyRateLimit = 50
	}
	pdfRateLimit := getEnvInt64("PDF_RATE_LIMIT", 20)
	if pdfRateLimit <= 0 {
		pdfRateLimit = 20
	}

	importMaxBytes := getEnvInt64("IMPORT_MAX_BYTES", 5<<20)
	if importMaxBytes <= 0 {
		importMaxBytes = 5 << 20
	}

	renderTimeout := getEnvDuration("RENDER_TIMEOUT", 60*time.Second)
	if renderTimeout <= 0 {
		renderTimeout = 60 * time.Second
	}

	return ServerConfig{
		Environment:       env,
		ListenAddr:        listenAddr,
		StoreDriver:       storeDriver,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnvString("SQLITE_PATH", "data/amdox.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedOrigins:    getEnvList("CORS_ORIGINS"),
		ForceHTTPS:        getEnvBool("FORCE_HTTPS", env == EnvProduction),
		RedisURL:          os.Getenv("REDIS_URL"),
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   getEnvString("RATE_LIMIT_PERIOD", "15m"),
		VerifyRateLimit:   verifyRateLimit,
		PDFRateLimit:      pdfRateLimit,
		ImportMaxBytes:    importMaxBytes,
		CertsBackend:      strings.ToLower(getEnvString("CERTS_BACKEND", CertsBackendLocal)),
		CertsDir:          getEnvString("CERTS_DIR", "./certs"),
		CertsS3Bucket:     os.Getenv("CERTS_S3_BUCKET"),
		CertsS3Prefix:     os.Getenv("CERTS_S3_PREFIX"),
		CertsS3Region:     os.Getenv("CERTS_S3_REGION"),
		CertsS3Endpoint:   os.Getenv("CERTS_S3_ENDPOINT"),
		ChromePath:        os.Getenv("CHROME_PATH"),
		RenderTimeout:     renderTimeout,
	}
}

// Validate reports configuration that would prevent the server from starting.
func (c ServerConfig) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	if _, err := time.ParseDuration(c.RateLimitPeriod); err != nil {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_PERIOD %q", c.RateLimitPeriod))
	}

	switch c.CertsBackend {
	case CertsBackendLocal:
		if c.CertsDir == "" {
			errs = append(errs, errors.New("CERTS_DIR is required when CERTS_BACKEND=local"))
		}
	case CertsBackendS3:
		if c.CertsS3Bucket == "" {
			errs = append(errs, errors.New("CERTS_S3_BUCKET is required when CERTS_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported CERTS_BACKEND %q", c.CertsBackend))
	}

	if c.Environment == EnvProduction && len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ORIGINS must be set in production"))
	}

	return errors.Join(errs...)
}

// getEnvString reads a string from an environment variable, returning the default if unset.
func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList reads a comma-separated list, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt64 reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration string, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
