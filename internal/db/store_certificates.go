package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/preesha73/Amdox-Website/internal/models"
)

const insertCertificateSQL = `
	INSERT INTO certificates (cert_id, name, course, email, issued_at, meta, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (cert_id) DO NOTHING
	RETURNING cert_id
`

// ErrConnectionLost is returned when the store connection dies before any
// record of a batch was committed.
var ErrConnectionLost = errors.New("store connection lost")

// batchConn is the part of *pgx.Conn a batch insert needs.
type batchConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	IsClosed() bool
}

// InsertCertificates inserts every certificate independently on a single
// connection and reports one outcome per record, in input order. A record
// whose cert_id already exists is reported as a duplicate. The call fails as
// a whole when no connection can be obtained, or when the connection dies
// before any record was committed.
func (db *DB) InsertCertificates(ctx context.Context, certs []*models.Certificate) ([]models.InsertOutcome, error) {
	if len(certs) == 0 {
		return []models.InsertOutcome{}, nil
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return db.insertBatch(ctx, conn.Conn(), certs)
}

func (db *DB) insertBatch(ctx context.Context, conn batchConn, certs []*models.Certificate) ([]models.InsertOutcome, error) {
	outcomes := make([]models.InsertOutcome, 0, len(certs))
	committed := 0
	for i, c := range certs {
		outcome := models.InsertOutcome{Index: i, CertID: c.CertID}

		if conn.IsClosed() {
			if committed == 0 {
				return nil, ErrConnectionLost
			}
			outcome.Status = models.InsertStatusFailed
			outcome.Err = ErrConnectionLost
			outcomes = append(outcomes, outcome)
			continue
		}

		status, err := insertCertificate(ctx, conn, c)
		if err != nil && committed == 0 && conn.IsClosed() {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		outcome.Status = status
		outcome.Err = err
		if err != nil {
			db.logger.Warn().Err(err).Int("index", i).Str("cert_id", c.CertID).Msg("certificate insert failed")
		}
		if status == models.InsertStatusInserted {
			committed++
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func insertCertificate(ctx context.Context, conn batchConn, c *models.Certificate) (models.InsertStatus, error) {
	meta, err := marshalMeta(c.Meta)
	if err != nil {
		return models.InsertStatusFailed, err
	}

	var inserted string
	err = conn.QueryRow(ctx, insertCertificateSQL,
		c.CertID, c.Name, c.Course, nullString(c.Email), c.IssuedAt, meta, c.CreatedAt,
	).Scan(&inserted)

	switch {
	case err == nil:
		return models.InsertStatusInserted, nil
	case errors.Is(err, pgx.ErrNoRows):
		return models.InsertStatusDuplicate, nil
	case isUniqueViolation(err):
		return models.InsertStatusDuplicate, nil
	default:
		return models.InsertStatusFailed, fmt.Errorf("insert certificate: %w", err)
	}
}

// GetCertificateByCertID returns the certificate with the exact certID.
func (db *DB) GetCertificateByCertID(ctx context.Context, certID string) (*models.Certificate, error) {
	var c models.Certificate
	var email *string
	var meta []byte

	err := db.Pool.QueryRow(ctx, `
		SELECT cert_id, name, course, email, issued_at, meta, created_at
		FROM certificates
		WHERE cert_id = $1
	`, certID).Scan(&c.CertID, &c.Name, &c.Course, &email, &c.IssuedAt, &meta, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}

	if email != nil {
		c.Email = *email
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Meta); err != nil {
			return nil, fmt.Errorf("decode certificate meta: %w", err)
		}
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()

	return &c, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode certificate meta: %w", err)
	}
	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
