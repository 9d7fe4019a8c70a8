// Package sqlite provides an embedded certificate store on modernc.org/sqlite,
// used for single-node deployments and local operator tooling.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is how timestamps are persisted.
const timeLayout = time.RFC3339Nano

// Store is a certificate store backed by a SQLite file.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
// The path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", path).Msg("sqlite certificate store opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Health returns database statistics for the health endpoint.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           "sqlite",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"wait_count":       stats.WaitCount,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		var exists bool
		if err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if exists {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			version, strings.TrimSuffix(entry.Name(), ".sql"), time.Now().UTC().Format(timeLayout),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		s.logger.Info().Int("version", version).Msg("migration applied")
	}

	return nil
}

// InsertCertificates inserts every certificate independently on one
// connection. A record whose cert_id already exists is reported as a
// duplicate; only failure to obtain a connection fails the whole call.
func (s *Store) InsertCertificates(ctx context.Context, certs []*models.Certificate) ([]models.InsertOutcome, error) {
	if len(certs) == 0 {
		return []models.InsertOutcome{}, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	outcomes := make([]models.InsertOutcome, 0, len(certs))
	for i, c := range certs {
		outcome := models.InsertOutcome{Index: i, CertID: c.CertID}
		outcome.Status, outcome.Err = insertCertificate(ctx, conn, c)
		if outcome.Err != nil {
			s.logger.Warn().Err(outcome.Err).Int("index", i).Str("cert_id", c.CertID).Msg("certificate insert failed")
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func insertCertificate(ctx context.Context, conn *sql.Conn, c *models.Certificate) (models.InsertStatus, error) {
	meta := "{}"
	if c.Meta != nil {
		b, err := json.Marshal(c.Meta)
		if err != nil {
			return models.InsertStatusFailed, fmt.Errorf("encode certificate meta: %w", err)
		}
		meta = string(b)
	}

	var email any
	if c.Email != "" {
		email = c.Email
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO certificates (cert_id, name, course, email, issued_at, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cert_id) DO NOTHING
	`, c.CertID, c.Name, c.Course, email,
		c.IssuedAt.UTC().Format(timeLayout), meta, c.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return models.InsertStatusFailed, fmt.Errorf("insert certificate: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.InsertStatusFailed, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.InsertStatusDuplicate, nil
	}
	return models.InsertStatusInserted, nil
}

// GetCertificateByCertID returns the certificate with the exact certID.
func (s *Store) GetCertificateByCertID(ctx context.Context, certID string) (*models.Certificate, error) {
	var (
		c                   models.Certificate
		email               sql.NullString
		meta                string
		issuedAt, createdAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT cert_id, name, course, email, issued_at, meta, created_at
		FROM certificates
		WHERE cert_id = ?
	`, certID).Scan(&c.CertID, &c.Name, &c.Course, &email, &issuedAt, &meta, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}

	c.Email = email.String
	if c.IssuedAt, err = time.Parse(timeLayout, issuedAt); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Meta); err != nil {
			return nil, fmt.Errorf("decode certificate meta: %w", err)
		}
	}

	return &c, nil
}
