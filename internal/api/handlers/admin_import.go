package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/preesha73/Amdox-Website/internal/api/middleware"
	studentimport "github.com/preesha73/Amdox-Website/internal/import"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const templateFilename = "students_template.xlsx"

// CertificateIssuer issues certificates for validated import rows.
type CertificateIssuer interface {
	Issue(ctx context.Context, result *studentimport.Result) (*models.ImportSummary, error)
}

// ImportHandler handles the admin bulk student import.
type ImportHandler struct {
	parser    *studentimport.Parser
	validator *studentimport.Validator
	issuer    CertificateIssuer
	logger    zerolog.Logger
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(parser *studentimport.Parser, validator *studentimport.Validator, issuer CertificateIssuer, logger zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		parser:    parser,
		validator: validator,
		issuer:    issuer,
		logger:    logger.With().Str("component", "import_handler").Logger(),
	}
}

// RegisterRoutes registers import routes on the given router group. The group
// must already enforce authentication and the admin role.
func (h *ImportHandler) RegisterRoutes(r *gin.RouterGroup, uploadLimit gin.HandlerFunc) {
	r.POST("/import-students", withLimit(uploadLimit, h.ImportStudents)...)
	r.GET("/import-template", h.Template)
}

// ImportStudents parses an uploaded spreadsheet and issues a certificate per valid row.
// POST /api/admin/import-students
func (h *ImportHandler) ImportStudents(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds maximum upload size"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	middleware.SetUpload(c, fh.Filename, fh.Size)

	file, err := fh.Open()
	if err != nil {
		h.logger.Error().Err(err).Str("file_name", fh.Filename).Msg("failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error during import"})
		return
	}
	defer file.Close()

	sheet, err := h.parser.Parse(file)
	if err != nil {
		h.respondParseError(c, err)
		return
	}

	result, err := h.validator.ValidateSheet(sheet)
	if err != nil {
		h.respondParseError(c, err)
		return
	}

	summary, err := h.issuer.Issue(c.Request.Context(), result)
	if err != nil {
		h.logger.Error().Err(err).Str("file_name", fh.Filename).Msg("certificate import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error during import"})
		return
	}

	event := h.logger.Info().
		Str("file_name", fh.Filename).
		Int("inserted", summary.Inserted).
		Int("skipped", summary.Skipped).
		Int("errors", len(summary.Errors))
	if id := middleware.GetIdentity(c); id != nil {
		event = event.Str("user_id", id.UserID)
	}
	event.Msg("student import processed")

	c.JSON(http.StatusOK, summary)
}

func (h *ImportHandler) respondParseError(c *gin.Context, err error) {
	var missing *studentimport.MissingColumnError
	switch {
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": missing.Error()})
	case errors.Is(err, studentimport.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds maximum upload size"})
	case errors.Is(err, studentimport.ErrEmptyWorkbook):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file contains no worksheets"})
	case errors.Is(err, studentimport.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file format; upload an .xlsx or .csv file"})
	case errors.Is(err, studentimport.ErrMalformedFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file could not be read"})
	default:
		h.logger.Error().Err(err).Msg("failed to parse uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error during import"})
	}
}

// Template returns an example workbook with the expected header row.
// GET /api/admin/import-template
func (h *ImportHandler) Template(c *gin.Context) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := studentimport.TemplateHeader()
	example := studentimport.TemplateExample()
	headerRow := make([]any, len(header))
	for i, v := range header {
		headerRow[i] = v
	}
	exampleRow := make([]any, len(example))
	for i, v := range example {
		exampleRow[i] = v
	}

	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		h.templateFailed(c, err)
		return
	}
	if err := f.SetSheetRow(sheet, "A2", &exampleRow); err != nil {
		h.templateFailed(c, err)
		return
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		h.templateFailed(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+templateFilename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *ImportHandler) templateFailed(c *gin.Context, err error) {
	h.logger.Error().Err(err).Msg("failed to build import template")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
}
