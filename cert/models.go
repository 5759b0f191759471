package cert

import (
	"math"
	"time"

	"github.com/hazimsaleh/fatoora/authority"
	"github.com/hazimsaleh/fatoora/csr"
	"github.com/hazimsaleh/fatoora/keymat"
)

// Status is the authority-facing state of a certificate (the CSID status).
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusActive         Status = "ACTIVE"
	StatusRenewalPending Status = "RENEWAL_PENDING"
	StatusExpired        Status = "EXPIRED"
	StatusRevoked        Status = "REVOKED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked || s == StatusFailed
}

// Signable reports whether new invoices may be signed under this status.
// Signing continues while a renewal is pending, but never after expiry or
// revocation.
func (s Status) Signable() bool {
	return s == StatusActive || s == StatusRenewalPending
}

// Type distinguishes compliance (onboarding) from production certificates.
type Type string

const (
	TypeCompliance Type = "COMPLIANCE"
	TypeProduction Type = "PRODUCTION"
)

// Environment maps the certificate type to its authority environment.
func (t Type) Environment() authority.Environment {
	if t == TypeProduction {
		return authority.EnvironmentProduction
	}
	return authority.EnvironmentCompliance
}

// Certificate is the full persisted certificate record. It carries the
// envelope-encrypted private key and the authority secret; external callers
// only ever see the redacted Projection.
type Certificate struct {
	ID                string                `json:"id"`
	OrgID             string                `json:"org_id"`
	Type              Type                  `json:"type"`
	InvoiceType       csr.InvoiceType       `json:"invoice_type"`
	CSID              string                `json:"csid"`
	Secret            string                `json:"secret,omitempty"`
	RequestID         string                `json:"request_id,omitempty"`
	Status            Status                `json:"status"`
	ValidFrom         time.Time             `json:"valid_from,omitzero"`
	ValidTo           time.Time             `json:"valid_to,omitzero"`
	IsActive          bool                  `json:"is_active"`
	InvoicesSigned    uint64                `json:"invoices_signed"`
	EncryptedKey      keymat.EncryptedKey   `json:"encrypted_key"`
	PublicKeyPEM      string                `json:"public_key_pem"`
	Subject           csr.SubjectAttributes `json:"subject"`
	CSRFingerprint    string                `json:"csr_fingerprint"`
	RenewalNotifiedAt time.Time             `json:"renewal_notified_at,omitzero"`
	CreatedAt         time.Time             `json:"created_at"`

	// version is the storage CAS version the record was loaded at.
	version uint64
}

// Projection is the redacted external view of a certificate. It never
// includes key material, the authority secret, or one-time-password fields.
type Projection struct {
	ID              string          `json:"id"`
	OrgID           string          `json:"org_id"`
	Type            Type            `json:"type"`
	InvoiceType     csr.InvoiceType `json:"invoice_type"`
	CSID            string          `json:"csid"`
	Status          Status          `json:"status"`
	ValidFrom       time.Time       `json:"valid_from,omitzero"`
	ValidTo         time.Time       `json:"valid_to,omitzero"`
	IsActive        bool            `json:"is_active"`
	InvoicesSigned  uint64          `json:"invoices_signed"`
	PublicKeyPEM    string          `json:"public_key_pem"`
	Subject         string          `json:"subject"`
	DaysUntilExpiry int             `json:"days_until_expiry"`
	NeedsRenewal    bool            `json:"needs_renewal"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Project returns the redacted view of c as of now.
func (c *Certificate) Project(now time.Time) Projection {
	expiry := c.CheckExpiry(now)
	return Projection{
		ID:              c.ID,
		OrgID:           c.OrgID,
		Type:            c.Type,
		InvoiceType:     c.InvoiceType,
		CSID:            c.CSID,
		Status:          c.Status,
		ValidFrom:       c.ValidFrom,
		ValidTo:         c.ValidTo,
		IsActive:        c.IsActive,
		InvoicesSigned:  c.InvoicesSigned,
		PublicKeyPEM:    c.PublicKeyPEM,
		Subject:         csr.SubjectString(c.Subject),
		DaysUntilExpiry: expiry.DaysUntilExpiry,
		NeedsRenewal:    expiry.NeedsRenewal,
		CreatedAt:       c.CreatedAt,
	}
}

// RenewalThresholdDays is the expiry horizon at which a certificate is
// considered due for renewal.
const RenewalThresholdDays = 30

// ExpiryCheck is the result of an expiry evaluation.
type ExpiryCheck struct {
	DaysUntilExpiry int  `json:"days_until_expiry"`
	IsExpired       bool `json:"is_expired"`
	NeedsRenewal    bool `json:"needs_renewal"`
}

// CheckExpiry evaluates the certificate's validity window against now.
// Days are rounded up, so a certificate expiring later today reports one
// day remaining and only counts as expired once a full day past validity.
func (c *Certificate) CheckExpiry(now time.Time) ExpiryCheck {
	days := int(math.Ceil(c.ValidTo.Sub(now).Hours() / 24))
	return ExpiryCheck{
		DaysUntilExpiry: days,
		IsExpired:       days < 0,
		NeedsRenewal:    days <= RenewalThresholdDays,
	}
}

// RotationStatus tracks a rotation's progress.
type RotationStatus string

const (
	RotationInitiated  RotationStatus = "initiated"
	RotationInProgress RotationStatus = "in_progress"
	RotationCompleted  RotationStatus = "completed"
	RotationFailed     RotationStatus = "failed"
)

// RotationRecord is an immutable history entry linking a retired
// certificate to its successor. Repeated renewals form a chain of these
// records keyed by id.
type RotationRecord struct {
	ID                  string         `json:"id"`
	OrgID               string         `json:"org_id"`
	OldCertificateID    string         `json:"old_certificate_id"`
	NewCertificateID    string         `json:"new_certificate_id,omitempty"`
	Status              RotationStatus `json:"status"`
	Reason              string         `json:"reason"`
	GracePeriodEnd      time.Time      `json:"grace_period_end,omitzero"`
	InvoicesSignedAtOld uint64         `json:"invoices_signed_at_old"`
	CreatedAt           time.Time      `json:"created_at"`
	CompletedAt         time.Time      `json:"completed_at,omitzero"`
}

// InGracePeriod reports whether signatures made with the retired
// certificate are still within their verification grace period.
func (r *RotationRecord) InGracePeriod(now time.Time) bool {
	return r.Status == RotationCompleted && now.Before(r.GracePeriodEnd)
}
