package studentimport

import (
	"errors"
	"fmt"
	"iter"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/preesha73/Amdox-Website/internal/models"
)

// emailPattern is the permissive shape check applied to optional emails.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Result holds the partitioned rows of one sheet.
type Result struct {
	Valid   []Row
	Skipped []models.SkippedRow
}

// Validator splits sheet rows into valid and skipped sets.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new row validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("basic_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidateRow returns the skip reason for a row, or "" if the row is valid.
// Missing required fields take precedence over a malformed email.
func (v *Validator) ValidateRow(row Row) string {
	err := v.validate.Struct(row)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.SkipReasonMissingRequiredFields
	}

	reason := ""
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			return models.SkipReasonMissingRequiredFields
		case "basic_email":
			reason = models.SkipReasonInvalidEmail
		}
	}
	if reason == "" {
		reason = models.SkipReasonMissingRequiredFields
	}
	return reason
}

// Partition consumes rows and sorts each into Valid or Skipped, preserving
// file order. A read error aborts the partition.
func (v *Validator) Partition(rows iter.Seq2[Row, error]) (*Result, error) {
	result := &Result{
		Valid:   []Row{},
		Skipped: []models.SkippedRow{},
	}

	for row, err := range rows {
		if err != nil {
			return nil, err
		}

		switch reason := v.ValidateRow(row); reason {
		case "":
			result.Valid = append(result.Valid, row)
		case models.SkipReasonInvalidEmail:
			result.Skipped = append(result.Skipped, models.SkippedRow{
				Row:    row.Number,
				Reason: reason,
				Email:  row.Email,
			})
		default:
			result.Skipped = append(result.Skipped, models.SkippedRow{
				Row:    row.Number,
				Reason: reason,
			})
		}
	}

	return result, nil
}

// ValidateSheet partitions every data row of the sheet and closes it.
func (v *Validator) ValidateSheet(sheet *Sheet) (*Result, error) {
	defer sheet.Close()
	res, err := v.Partition(sheet.Rows())
	if err != nil {
		return nil, fmt.Errorf("partition rows: %w", err)
	}
	return res, nil
}

// TemplateHeader returns the header row of the downloadable import template.
func TemplateHeader() []string {
	return []string{ColumnName, ColumnEmail, ColumnCourse}
}

// TemplateExample returns an example data row for the import template.
func TemplateExample() []string {
	return []string{"Ada Lovelace", "ada@example.com", "Analytical Engines 101"}
}
