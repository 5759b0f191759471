// Package csr validates subject attributes and assembles certificate
// signing requests for submission to the tax authority.
package csr

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"regexp"

	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/validation"
)

// InvoiceType declares which invoice kinds a certificate may sign.
type InvoiceType string

const (
	InvoiceTypeStandard   InvoiceType = "standard"
	InvoiceTypeSimplified InvoiceType = "simplified"
	InvoiceTypeBoth       InvoiceType = "both"
)

// Valid reports whether t is a known invoice type.
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeStandard, InvoiceTypeSimplified, InvoiceTypeBoth:
		return true
	}
	return false
}

const (
	// RequiredCountry is the fixed subject country.
	RequiredCountry = "SA"
	// MaxNameLength bounds each subject name field.
	MaxNameLength = 64
)

var taxNumberRE = regexp.MustCompile(`^\d{15}$`)

// Private enterprise arc carrying the domain-specific request attributes.
var (
	oidInvoiceType  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55000, 1, 1}
	oidSolutionName = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55000, 1, 2}
)

// SubjectAttributes are the domain-specific subject fields of a signing
// request. OrganizationUnit carries the 15-digit tax registration number.
type SubjectAttributes struct {
	Country          string      `json:"country"`
	OrganizationName string      `json:"organization_name"`
	OrganizationUnit string      `json:"organization_unit"`
	CommonName       string      `json:"common_name"`
	InvoiceType      InvoiceType `json:"invoice_type"`
	SolutionName     string      `json:"solution_name,omitempty"`
}

// Request is an assembled signing request ready for authority submission.
type Request struct {
	DER         []byte
	PEM         string
	Subject     string
	Fingerprint string
}

// ValidateSubject checks all subject attributes and reports every violation
// together.
func ValidateSubject(attrs SubjectAttributes) error {
	var c validation.Collector

	if attrs.Country != RequiredCountry {
		c.Addf("country must be %q, got %q", RequiredCountry, attrs.Country)
	}
	if attrs.OrganizationName == "" {
		c.Addf("organization name is required")
	} else if len(attrs.OrganizationName) > MaxNameLength {
		c.Addf("organization name exceeds %d characters", MaxNameLength)
	}
	if !taxNumberRE.MatchString(attrs.OrganizationUnit) {
		c.Addf("tax registration number must be exactly 15 digits, got %q", attrs.OrganizationUnit)
	}
	if attrs.CommonName == "" {
		c.Addf("common name is required")
	} else if len(attrs.CommonName) > MaxNameLength {
		c.Addf("common name exceeds %d characters", MaxNameLength)
	}
	if !attrs.InvoiceType.Valid() {
		c.Addf("invoice type must be standard, simplified or both, got %q", attrs.InvoiceType)
	}
	if len(attrs.SolutionName) > MaxNameLength {
		c.Addf("solution name exceeds %d characters", MaxNameLength)
	}

	return c.Err()
}

// BuildRequest validates attrs and assembles a PKCS#10 signing request
// signed by the given private key. The fingerprint is the SHA-256 of the
// request body, used to correlate authority responses with audit entries.
func BuildRequest(attrs SubjectAttributes, priv *ecdsa.PrivateKey) (*Request, error) {
	if err := ValidateSubject(attrs); err != nil {
		return nil, err
	}

	subject := pkix.Name{
		Country:            []string{attrs.Country},
		Organization:       []string{attrs.OrganizationName},
		OrganizationalUnit: []string{attrs.OrganizationUnit},
		CommonName:         attrs.CommonName,
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidInvoiceType, Value: string(attrs.InvoiceType)},
		},
	}
	if attrs.SolutionName != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{
			Type: oidSolutionName, Value: attrs.SolutionName,
		})
	}

	template := x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, priv)
	if err != nil {
		return nil, fmt.Errorf("creating certificate request: %w", err)
	}

	fingerprint := sha256.Sum256(der)
	pemBody := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})

	return &Request{
		DER:         der,
		PEM:         string(pemBody),
		Subject:     SubjectString(attrs),
		Fingerprint: util.HexEncode(fingerprint[:]),
	}, nil
}

// SubjectString formats the subject attributes as a readable DN string.
func SubjectString(attrs SubjectAttributes) string {
	return fmt.Sprintf("C=%s, O=%s, OU=%s, CN=%s",
		attrs.Country, attrs.OrganizationName, attrs.OrganizationUnit, attrs.CommonName)
}
