package db

import (
	"context"
	"fmt"

	"github.com/preesha73/Amdox-Website/internal/config"
	"github.com/preesha73/Amdox-Website/internal/db/sqlite"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// CertificateStore is the store surface shared by the Postgres and SQLite drivers.
type CertificateStore interface {
	InsertCertificates(ctx context.Context, certs []*models.Certificate) ([]models.InsertOutcome, error)
	GetCertificateByCertID(ctx context.Context, certID string) (*models.Certificate, error)
	Ping(ctx context.Context) error
	Health() map[string]any
}

// OpenStore opens the certificate store selected by cfg.StoreDriver with its
// schema migrated. The returned func releases the store.
func OpenStore(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (CertificateStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the %s driver", cfg.StoreDriver)
		}
		database, err := New(ctx, DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return database, database.Close, nil

	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close sqlite store")
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
