package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/preesha73/Amdox-Website/internal/certificates"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	resp *models.VerificationResponse
	err  error
}

func (m *mockVerifier) Verify(_ context.Context, _ string) (*models.VerificationResponse, error) {
	return m.resp, m.err
}

type mockPDFProvider struct {
	pdf *certificates.PDF
	err error
}

func (m *mockPDFProvider) Get(_ context.Context, _ string) (*certificates.PDF, error) {
	return m.pdf, m.err
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func setupCertificatesTestRouter(v CertificateVerifier, p CertificatePDFProvider, limits CertificateRouteLimits) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewCertificatesHandler(v, p, zerolog.Nop()).RegisterRoutes(r.Group("/api"), limits)
	return r
}

func doGet(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestCertificatesVerify(t *testing.T) {
	issued := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("verified", func(t *testing.T) {
		resp := models.NewVerifiedResponse(&models.Certificate{
			CertID: "abc", Name: "Ada", Course: "Maths", Email: "ada@example.com", IssuedAt: issued,
		})
		r := setupCertificatesTestRouter(&mockVerifier{resp: &resp}, nil, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/abc")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"verified":true,"certId":"abc","name":"Ada","course":"Maths","issuedAt":"2025-06-01T09:00:00Z"}`, w.Body.String())
		assert.NotContains(t, w.Body.String(), "ada@example.com")
	})

	t.Run("not found", func(t *testing.T) {
		r := setupCertificatesTestRouter(&mockVerifier{err: models.ErrCertificateNotFound}, nil, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/missing")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"verified":false,"error":"Certificate not found"}`, w.Body.String())
	})

	t.Run("store error hides detail", func(t *testing.T) {
		r := setupCertificatesTestRouter(&mockVerifier{err: errors.New("pq: connection reset")}, nil, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/abc")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"verified":false,"error":"Server error"}`, w.Body.String())
	})
}

func TestCertificatesPDF(t *testing.T) {
	t.Run("streams document", func(t *testing.T) {
		body := &closeTracker{Reader: strings.NewReader("%PDF-1.7 test")}
		p := &mockPDFProvider{pdf: &certificates.PDF{CertID: "abc", Body: body, Size: 13, Cached: true}}
		r := setupCertificatesTestRouter(nil, p, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/abc/pdf")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Equal(t, `inline; filename="certificate_abc.pdf"`, w.Header().Get("Content-Disposition"))
		assert.Equal(t, "13", w.Header().Get("Content-Length"))
		assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
		assert.Equal(t, "%PDF-1.7 test", w.Body.String())
		assert.True(t, body.closed)
	})

	t.Run("not found", func(t *testing.T) {
		r := setupCertificatesTestRouter(nil, &mockPDFProvider{err: models.ErrCertificateNotFound}, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/missing/pdf")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"Certificate not found"}`, w.Body.String())
	})

	t.Run("render failure", func(t *testing.T) {
		err := errors.Join(certificates.ErrRenderFailed, errors.New("chrome crashed"))
		r := setupCertificatesTestRouter(nil, &mockPDFProvider{err: err}, CertificateRouteLimits{})

		w := doGet(r, "/api/certificates/abc/pdf")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"Failed to generate PDF"}`, w.Body.String())
	})
}

func TestCertificatesRouteLimits(t *testing.T) {
	var hits []string
	limit := func(name string) gin.HandlerFunc {
		return func(c *gin.Context) {
			hits = append(hits, name)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "limited"})
		}
	}

	r := setupCertificatesTestRouter(&mockVerifier{}, &mockPDFProvider{}, CertificateRouteLimits{
		Verify: limit("verify"),
		PDF:    limit("pdf"),
	})

	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/api/certificates/abc").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/api/certificates/abc/pdf").Code)
	assert.Equal(t, []string{"verify", "pdf"}, hits)
}

