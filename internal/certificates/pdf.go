package certificates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/preesha73/Amdox-Website/internal/artifacts"
	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrRenderFailed is returned when a certificate PDF could not be produced.
var ErrRenderFailed = errors.New("certificate render failed")

// DefaultRenderTimeout bounds a single PDF render.
const DefaultRenderTimeout = 60 * time.Second

// PDF is a certificate document ready to be streamed.
type PDF struct {
	CertID string
	Body   io.ReadCloser
	Size   int64
	Cached bool
}

// Filename returns the download name of the document.
func (p *PDF) Filename() string {
	return "certificate_" + p.CertID + ".pdf"
}

// PDFService serves certificate PDFs, rendering each at most once and caching
// the result.
type PDFService struct {
	store         Finder
	cache         artifacts.Store
	renderer      Renderer
	renderTimeout time.Duration
	metrics       *metrics.PrometheusMetrics
	logger        zerolog.Logger

	flights singleflight.Group
}

// NewPDFService creates a new PDFService. m may be nil; a non-positive
// renderTimeout selects DefaultRenderTimeout.
func NewPDFService(store Finder, cache artifacts.Store, renderer Renderer, renderTimeout time.Duration, m *metrics.PrometheusMetrics, logger zerolog.Logger) *PDFService {
	if renderTimeout <= 0 {
		renderTimeout = DefaultRenderTimeout
	}
	return &PDFService{
		store:         store,
		cache:         cache,
		renderer:      renderer,
		renderTimeout: renderTimeout,
		metrics:       m,
		logger:        logger.With().Str("component", "certificate_pdf").Logger(),
	}
}

// CacheKey returns the artifact key for a certificate PDF.
func CacheKey(certID string) string {
	return certID + ".pdf"
}

// Get returns the PDF for certID. A cached artifact is returned unchanged;
// otherwise the document is rendered, cached and returned. Concurrent misses
// for one certificate share a single render. The caller must close Body.
func (s *PDFService) Get(ctx context.Context, certID string) (*PDF, error) {
	if certID == "" {
		return nil, models.ErrCertificateNotFound
	}

	cert, err := s.store.GetCertificateByCertID(ctx, certID)
	if err != nil {
		if errors.Is(err, models.ErrCertificateNotFound) {
			return nil, models.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("lookup certificate: %w", err)
	}

	key := CacheKey(cert.CertID)
	body, size, err := s.cache.Open(ctx, key)
	switch {
	case err == nil:
		s.metrics.RecordPDFCache(metrics.CacheHit)
		return &PDF{CertID: cert.CertID, Body: body, Size: size, Cached: true}, nil
	case !errors.Is(err, artifacts.ErrNotFound):
		return nil, fmt.Errorf("open cached pdf: %w", err)
	}
	s.metrics.RecordPDFCache(metrics.CacheMiss)

	// The shared render must not be cancelled by whichever caller started it.
	ch := s.flights.DoChan(key, func() (any, error) {
		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renderTimeout)
		defer cancel()
		return s.renderAndStore(renderCtx, cert, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		return &PDF{
			CertID: cert.CertID,
			Body:   io.NopCloser(bytes.NewReader(data)),
			Size:   int64(len(data)),
		}, nil
	}
}

func (s *PDFService) renderAndStore(ctx context.Context, cert *models.Certificate, key string) ([]byte, error) {
	// A previous flight may have committed the artifact after our lookup.
	if body, _, err := s.cache.Open(ctx, key); err == nil {
		defer body.Close()
		data, err := io.ReadAll(body)
		if err == nil {
			return data, nil
		}
		s.logger.Warn().Err(err).Str("cert_id", cert.CertID).Msg("failed to read cached pdf, re-rendering")
	}

	html, err := RenderHTML(cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	start := time.Now()
	data, err := s.renderer.RenderPDF(ctx, html)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.RecordRender("error", elapsed)
		s.logger.Error().Err(err).Str("cert_id", cert.CertID).Msg("pdf render failed")
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if len(data) == 0 {
		s.metrics.RecordRender("error", elapsed)
		return nil, fmt.Errorf("%w: renderer returned no data", ErrRenderFailed)
	}
	s.metrics.RecordRender("ok", elapsed)

	if err := s.cache.Put(ctx, key, data); err != nil {
		s.logger.Error().Err(err).Str("cert_id", cert.CertID).Msg("failed to cache rendered pdf")
	} else {
		s.logger.Info().Str("cert_id", cert.CertID).Int("bytes", len(data)).Msg("certificate pdf rendered and cached")
	}

	return data, nil
}
