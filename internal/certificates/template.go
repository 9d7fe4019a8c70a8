package certificates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/preesha73/Amdox-Website/internal/models"
)

// IssueDateLayout is the layout of the issue date printed on certificates.
const IssueDateLayout = "January 2, 2006"

//go:embed templates/certificate.html
var templateFS embed.FS

var certificateTemplate = template.Must(template.ParseFS(templateFS, "templates/certificate.html"))

type certificateView struct {
	Name     string
	Course   string
	CertID   string
	IssuedOn string
}

// RenderHTML renders the printable certificate document. Every interpolated
// field is HTML-escaped.
func RenderHTML(cert *models.Certificate) (string, error) {
	view := certificateView{
		Name:     cert.Name,
		Course:   cert.Course,
		CertID:   cert.CertID,
		IssuedOn: cert.IssuedAt.UTC().Format(IssueDateLayout),
	}

	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("execute certificate template: %w", err)
	}
	return buf.String(), nil
}
