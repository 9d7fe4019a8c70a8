// Package models defines the domain types shared across the Amdox server.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCertificateNotFound is returned when no certificate matches a lookup.
var ErrCertificateNotFound = errors.New("certificate not found")

// Certificate is an issued certificate. It is created exactly once, during a
// bulk import, and is never updated afterwards.
type Certificate struct {
	CertID    string         `json:"certId"`
	Name      string         `json:"name"`
	Course    string         `json:"course"`
	Email     string         `json:"email,omitempty"`
	IssuedAt  time.Time      `json:"issuedAt"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewCertificate creates a certificate with a fresh random identifier.
// The email is stored lower-cased.
func NewCertificate(name, course, email string, issuedAt time.Time) *Certificate {
	return &Certificate{
		CertID:    uuid.NewString(),
		Name:      name,
		Course:    course,
		Email:     strings.ToLower(email),
		IssuedAt:  issuedAt.UTC(),
		CreatedAt: issuedAt.UTC(),
	}
}

// InsertStatus describes what happened to one record of a batch insert.
type InsertStatus string

const (
	// InsertStatusInserted indicates the record was committed.
	InsertStatusInserted InsertStatus = "inserted"
	// InsertStatusDuplicate indicates the record collided with an existing certId.
	InsertStatusDuplicate InsertStatus = "duplicate"
	// InsertStatusFailed indicates the record failed for any other reason.
	InsertStatusFailed InsertStatus = "failed"
)

// InsertOutcome is the per-record result of a batch insert. Index refers to
// the record's position in the submitted slice.
type InsertOutcome struct {
	Index  int
	CertID string
	Status InsertStatus
	Err    error
}

// OK reports whether the record was committed.
func (o InsertOutcome) OK() bool {
	return o.Status == InsertStatusInserted
}

// Skip reasons reported for rejected spreadsheet rows.
const (
	SkipReasonMissingRequiredFields = "missing_required_fields"
	SkipReasonInvalidEmail          = "invalid_email"
)

// SkippedRow is a spreadsheet row rejected during parsing.
type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
	Email  string `json:"email,omitempty"`
}

// ImportError is an insert-time failure for one candidate certificate.
type ImportError struct {
	Index   int    `json:"index"`
	CertID  string `json:"certId,omitempty"`
	Message string `json:"message"`
}

// ImportSummary is the result of a bulk student import.
type ImportSummary struct {
	Inserted        int           `json:"inserted"`
	InsertedCertIDs []string      `json:"insertedCertIds"`
	Skipped         int           `json:"skipped"`
	SkippedRows     []SkippedRow  `json:"skippedRows"`
	Errors          []ImportError `json:"errors"`
	Message         string        `json:"message"`
}

// VerificationResponse is the public view of a certificate. It deliberately
// leaves out the holder's email and meta attributes.
type VerificationResponse struct {
	Verified bool       `json:"verified"`
	CertID   string     `json:"certId,omitempty"`
	Name     string     `json:"name,omitempty"`
	Course   string     `json:"course,omitempty"`
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// NewVerifiedResponse builds the positive verification body for a certificate.
func NewVerifiedResponse(cert *Certificate) VerificationResponse {
	issued := cert.IssuedAt
	return VerificationResponse{
		Verified: true,
		CertID:   cert.CertID,
		Name:     cert.Name,
		Course:   cert.Course,
		IssuedAt: &issued,
	}
}
