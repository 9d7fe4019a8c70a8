package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// newBodyLimitRouter echoes 200 if the whole body could be read, 413 otherwise.
func newBodyLimitRouter(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(BodyLimitMiddleware(limit))
	r.POST("/upload", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/upload", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestBodyLimitMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		unknownLength bool
		want          int
	}{
		{"under limit", 512, false, http.StatusOK},
		{"exact limit", 1024, false, http.StatusOK},
		{"declared over limit", 2048, false, http.StatusRequestEntityTooLarge},
		{"streamed over limit", 2048, true, http.StatusRequestEntityTooLarge},
		{"streamed under limit", 100, true, http.StatusOK},
	}

	r := newBodyLimitRouter(1024)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("a", tt.size)))
			if tt.unknownLength {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestBodyLimitMiddleware_NilBody(t *testing.T) {
	r := newBodyLimitRouter(1024)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/upload", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
