package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/preesha73/Amdox-Website/internal/certificates"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// CertificateVerifier answers public verification queries.
type CertificateVerifier interface {
	Verify(ctx context.Context, certID string) (*models.VerificationResponse, error)
}

// CertificatePDFProvider returns rendered certificate documents.
type CertificatePDFProvider interface {
	Get(ctx context.Context, certID string) (*certificates.PDF, error)
}

// CertificateRouteLimits holds optional per-route middleware, typically rate limiters.
type CertificateRouteLimits struct {
	Verify gin.HandlerFunc
	PDF    gin.HandlerFunc
}

// CertificatesHandler handles the public certificate endpoints.
type CertificatesHandler struct {
	verifier CertificateVerifier
	pdfs     CertificatePDFProvider
	logger   zerolog.Logger
}

// NewCertificatesHandler creates a new CertificatesHandler.
func NewCertificatesHandler(verifier CertificateVerifier, pdfs CertificatePDFProvider, logger zerolog.Logger) *CertificatesHandler {
	return &CertificatesHandler{
		verifier: verifier,
		pdfs:     pdfs,
		logger:   logger.With().Str("component", "certificates_handler").Logger(),
	}
}

// RegisterRoutes registers certificate routes on the given router group.
func (h *CertificatesHandler) RegisterRoutes(r *gin.RouterGroup, limits CertificateRouteLimits) {
	certs := r.Group("/certificates")
	{
		certs.GET("/:certId", withLimit(limits.Verify, h.Verify)...)
		certs.GET("/:certId/pdf", withLimit(limits.PDF, h.PDF)...)
	}
}

func withLimit(limit, handler gin.HandlerFunc) []gin.HandlerFunc {
	if limit == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{limit, handler}
}

// Verify reports whether a certificate exists and returns its public details.
// GET /api/certificates/:certId
func (h *CertificatesHandler) Verify(c *gin.Context) {
	certID := c.Param("certId")

	resp, err := h.verifier.Verify(c.Request.Context(), certID)
	if err != nil {
		if errors.Is(err, models.ErrCertificateNotFound) {
			c.JSON(http.StatusNotFound, models.VerificationResponse{Verified: false, Error: "Certificate not found"})
			return
		}
		h.logger.Error().Err(err).Str("cert_id", certID).Msg("certificate verification failed")
		c.JSON(http.StatusInternalServerError, models.VerificationResponse{Verified: false, Error: "Server error"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// PDF streams the certificate document, rendering it on first request.
// GET /api/certificates/:certId/pdf
func (h *CertificatesHandler) PDF(c *gin.Context) {
	certID := c.Param("certId")

	pdf, err := h.pdfs.Get(c.Request.Context(), certID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCertificateNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Certificate not found"})
		case c.Request.Context().Err() != nil:
			h.logger.Debug().Err(err).Str("cert_id", certID).Msg("client went away before pdf was ready")
			c.Abort()
		default:
			h.logger.Error().Err(err).Str("cert_id", certID).Msg("certificate pdf failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate PDF"})
		}
		return
	}
	defer pdf.Body.Close()

	cache := "MISS"
	if pdf.Cached {
		cache = "HIT"
	}

	c.DataFromReader(http.StatusOK, pdf.Size, "application/pdf", pdf.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", pdf.Filename()),
		"X-Cache":             cache,
	})
}
