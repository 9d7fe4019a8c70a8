package certificates

import (
	"context"
	"errors"
	"fmt"

	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// Verification results recorded in metrics.
const (
	verifyFound    = "found"
	verifyNotFound = "not_found"
	verifyError    = "error"
)

// Verifier answers public "is this certificate real" lookups.
type Verifier struct {
	store   Finder
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
}

// NewVerifier creates a new Verifier. m may be nil.
func NewVerifier(store Finder, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Verifier {
	return &Verifier{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "certificate_verifier").Logger(),
	}
}

// Verify returns the public view of the certificate with certID. A miss
// returns models.ErrCertificateNotFound; the lookup is exact and never
// modifies the certificate.
func (v *Verifier) Verify(ctx context.Context, certID string) (*models.VerificationResponse, error) {
	if certID == "" {
		v.metrics.RecordVerification(verifyNotFound)
		return nil, models.ErrCertificateNotFound
	}

	cert, err := v.store.GetCertificateByCertID(ctx, certID)
	if err != nil {
		if errors.Is(err, models.ErrCertificateNotFound) {
			v.metrics.RecordVerification(verifyNotFound)
			return nil, models.ErrCertificateNotFound
		}
		v.metrics.RecordVerification(verifyError)
		return nil, fmt.Errorf("lookup certificate: %w", err)
	}

	v.metrics.RecordVerification(verifyFound)
	resp := models.NewVerifiedResponse(cert)
	return &resp, nil
}
