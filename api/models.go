package api

import (
	"time"

	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/csr"
	"github.com/hazimsaleh/fatoora/sign"
)

// CreateCertificateRequest is the JSON body for POST /orgs/{orgID}/certificates.
type CreateCertificateRequest struct {
	Type    cert.Type             `json:"type"`
	Subject csr.SubjectAttributes `json:"subject"`
	OTP     string                `json:"otp,omitempty"`
}

// ApproveCertificateRequest is the JSON body for the approve endpoint. Zero
// times keep the validity window recorded at submission.
type ApproveCertificateRequest struct {
	ValidFrom time.Time `json:"valid_from,omitzero"`
	ValidTo   time.Time `json:"valid_to,omitzero"`
}

// RevokeCertificateRequest is the JSON body for the revoke endpoint.
type RevokeCertificateRequest struct {
	Reason string `json:"reason"`
}

// RenewCertificateRequest is the JSON body for the renew endpoint.
type RenewCertificateRequest struct {
	Reason string `json:"reason"`
}

// ListCertificatesResponse is returned from GET /orgs/{orgID}/certificates.
type ListCertificatesResponse struct {
	Certificates []cert.Projection `json:"certificates"`
}

// ListRotationsResponse is returned from GET /orgs/{orgID}/rotations.
type ListRotationsResponse struct {
	Rotations []*cert.RotationRecord `json:"rotations"`
}

// SignInvoiceRequest is the JSON body for POST /orgs/{orgID}/invoices/sign.
type SignInvoiceRequest struct {
	Type    cert.Type    `json:"type"`
	Invoice sign.Invoice `json:"invoice"`
}

// ListSigningRecordsResponse is returned from the chain records endpoint.
type ListSigningRecordsResponse struct {
	Records []sign.Record `json:"records"`
}

// ListAuditResponse is returned from GET /orgs/{orgID}/audit.
type ListAuditResponse struct {
	Entries []auditEntryDTO `json:"entries"`
	Total   int             `json:"total"`
}

type auditEntryDTO struct {
	ID            string `json:"id"`
	CertificateID string `json:"certificate_id,omitempty"`
	Action        string `json:"action"`
	PerformedBy   string `json:"performed_by"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// HealthResponse is returned from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}
