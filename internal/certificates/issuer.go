// Package certificates implements certificate issuance, verification and PDF
// delivery on top of a certificate store.
package certificates

import (
	"context"
	"errors"
	"fmt"
	"time"

	studentimport "github.com/preesha73/Amdox-Website/internal/import"
	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// ErrImportFailed is returned when the store cannot be used at all during an import.
var ErrImportFailed = errors.New("certificate import failed")

// Summary messages.
const (
	MessageNoValidRows    = "No valid rows found"
	MessageImportComplete = "Import complete"
)

// Per-record error messages reported in the import summary.
const (
	messageDuplicate    = "duplicate certificate id"
	messageInsertFailed = "insert failed"
)

// Inserter persists new certificates. Every record is attempted independently
// and reported by index; an error return means the store could not be used.
type Inserter interface {
	InsertCertificates(ctx context.Context, certs []*models.Certificate) ([]models.InsertOutcome, error)
}

// Finder looks certificates up by their public identifier.
type Finder interface {
	GetCertificateByCertID(ctx context.Context, certID string) (*models.Certificate, error)
}

// Store is a certificate store supporting both issuance and lookup.
type Store interface {
	Inserter
	Finder
}

// Issuer turns validated spreadsheet rows into stored certificates.
type Issuer struct {
	store   Inserter
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger

	now   func() time.Time
	build func(name, course, email string, issuedAt time.Time) *models.Certificate
}

// NewIssuer creates a new Issuer. m may be nil.
func NewIssuer(store Inserter, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Issuer {
	return &Issuer{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "certificate_issuer").Logger(),
		now:     time.Now,
		build:   models.NewCertificate,
	}
}

// Issue creates one certificate per valid row, in file order, and reports
// what was committed. Rows skipped during parsing are carried into the summary.
func (i *Issuer) Issue(ctx context.Context, result *studentimport.Result) (*models.ImportSummary, error) {
	summary := &models.ImportSummary{
		InsertedCertIDs: []string{},
		SkippedRows:     []models.SkippedRow{},
		Errors:          []models.ImportError{},
	}
	if result != nil {
		summary.SkippedRows = append(summary.SkippedRows, result.Skipped...)
	}
	summary.Skipped = len(summary.SkippedRows)

	for _, s := range summary.SkippedRows {
		i.metrics.RecordSkipped(s.Reason)
	}

	if result == nil || len(result.Valid) == 0 {
		summary.Message = MessageNoValidRows
		return summary, nil
	}

	issuedAt := i.now().UTC()
	candidates := make([]*models.Certificate, 0, len(result.Valid))
	for _, row := range result.Valid {
		candidates = append(candidates, i.build(row.Name, row.Course, row.Email, issuedAt))
	}

	outcomes, err := i.store.InsertCertificates(ctx, candidates)
	if err != nil {
		i.logger.Error().Err(err).Int("candidates", len(candidates)).Msg("certificate store unavailable")
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	if len(outcomes) != len(candidates) {
		return nil, fmt.Errorf("%w: store reported %d outcomes for %d records", ErrImportFailed, len(outcomes), len(candidates))
	}

	byIndex := make([]models.InsertOutcome, len(candidates))
	seen := make([]bool, len(candidates))
	for _, o := range outcomes {
		if o.Index < 0 || o.Index >= len(candidates) || seen[o.Index] {
			return nil, fmt.Errorf("%w: store reported invalid outcome index %d", ErrImportFailed, o.Index)
		}
		byIndex[o.Index] = o
		seen[o.Index] = true
	}

	for idx, o := range byIndex {
		certID := candidates[idx].CertID
		switch o.Status {
		case models.InsertStatusInserted:
			summary.InsertedCertIDs = append(summary.InsertedCertIDs, certID)
		case models.InsertStatusDuplicate:
			summary.Errors = append(summary.Errors, models.ImportError{Index: idx, CertID: certID, Message: messageDuplicate})
			i.metrics.RecordInsertFailure(string(o.Status))
		default:
			i.logger.Warn().Err(o.Err).Int("index", idx).Str("cert_id", certID).Msg("certificate insert failed")
			summary.Errors = append(summary.Errors, models.ImportError{Index: idx, CertID: certID, Message: messageInsertFailed})
			i.metrics.RecordInsertFailure(string(models.InsertStatusFailed))
		}
	}

	summary.Inserted = len(summary.InsertedCertIDs)
	summary.Message = MessageImportComplete
	i.metrics.RecordIssued(summary.Inserted)

	return summary, nil
}
