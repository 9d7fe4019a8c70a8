package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// cspAPI is a strict Content-Security-Policy for JSON responses.
const cspAPI = "default-src 'none'; frame-ancestors 'none'"

// cspPDF lets browsers display inline certificate PDFs with their built-in viewer.
const cspPDF = "default-src 'none'; object-src 'self'; plugin-types application/pdf; frame-ancestors 'self'"

// SecurityHeaders returns a middleware that sets security-related HTTP response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")

		if c.Request.TLS != nil || isForwardedHTTPS(c.Request) {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if isPDFRoute(c.Request.URL.Path) {
			c.Header("X-Frame-Options", "SAMEORIGIN")
			c.Header("Content-Security-Policy", cspPDF)
		} else {
			c.Header("Content-Security-Policy", cspAPI)
		}

		c.Next()
	}
}

// HTTPSRedirect returns a middleware that redirects plain HTTP requests to
// HTTPS when enabled. TLS terminated at a proxy is recognised through
// X-Forwarded-Proto. Health probes are never redirected.
func HTTPSRedirect(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || c.Request.TLS != nil || isForwardedHTTPS(c.Request) ||
			strings.HasPrefix(c.Request.URL.Path, "/health") {
			c.Next()
			return
		}

		target := "https://" + c.Request.Host + c.Request.URL.RequestURI()
		c.Redirect(http.StatusFound, target)
		c.Abort()
	}
}

func isForwardedHTTPS(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// isPDFRoute returns true for the certificate download route.
func isPDFRoute(path string) bool {
	return strings.HasPrefix(path, "/api/certificates/") && strings.HasSuffix(path, "/pdf")
}
