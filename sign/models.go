// Package sign is the cryptographic core of the compliance engine. It
// canonicalizes invoice data to a deterministic byte sequence, chains each
// invoice to its predecessor's hash, signs the hash under the organisation's
// active certificate and emits the QR payload. Canonicalization drift or an
// out-of-order chain write invalidates every subsequent invoice, so both are
// treated as hard failures.
package sign

import (
	"time"

	"github.com/hazimsaleh/fatoora/cert"
)

// Kind distinguishes standard (B2B, buyer required) from simplified (B2C)
// invoices.
type Kind string

const (
	KindStandard   Kind = "standard"
	KindSimplified Kind = "simplified"
)

// Party is a seller or buyer on an invoice.
type Party struct {
	Name      string `json:"name"`
	TaxNumber string `json:"tax_number,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Line is a single invoice line. TaxRate is a percentage (15 means 15%).
type Line struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"`
}

// NetAmount is the line total before tax.
func (l Line) NetAmount() float64 {
	return l.Quantity * l.UnitPrice
}

// TaxAmount is the tax due on the line.
func (l Line) TaxAmount() float64 {
	return l.NetAmount() * l.TaxRate / 100
}

// Invoice is the signing input supplied by the caller. Total is the declared
// pre-tax total and must match the sum of line net amounts.
type Invoice struct {
	Number   string    `json:"number"`
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	IssuedAt time.Time `json:"issued_at"`
	Seller   Party     `json:"seller"`
	Buyer    *Party    `json:"buyer,omitempty"`
	Lines    []Line    `json:"lines"`
	Total    float64   `json:"total"`
}

// NetTotal sums the line net amounts.
func (inv *Invoice) NetTotal() float64 {
	var sum float64
	for _, l := range inv.Lines {
		sum += l.NetAmount()
	}
	return sum
}

// TaxTotal sums the line tax amounts.
func (inv *Invoice) TaxTotal() float64 {
	var sum float64
	for _, l := range inv.Lines {
		sum += l.TaxAmount()
	}
	return sum
}

// PayableAmount is the tax-inclusive total.
func (inv *Invoice) PayableAmount() float64 {
	return inv.NetTotal() + inv.TaxTotal()
}

// SignedInvoice is the output artifact handed to reporting and clearance.
type SignedInvoice struct {
	InvoiceID           string `json:"invoice_id"`
	CertificateID       string `json:"certificate_id"`
	CanonicalDocument   string `json:"canonical_document"`
	InvoiceHash         string `json:"invoice_hash"`
	PreviousInvoiceHash string `json:"previous_invoice_hash"`
	Signature           string `json:"signature"`
	PublicKey           string `json:"public_key"`
	Algorithm           string `json:"algorithm"`
	QRCode              string `json:"qr_code"`
	Sequence            uint64 `json:"sequence"`
}

// Record is the append-only persisted trace of one signing operation. Its ID
// is the environment plus the zero-padded chain sequence, so a sorted
// listing yields chain order.
type Record struct {
	ID                  string    `json:"id"`
	CertType            cert.Type `json:"cert_type"`
	InvoiceID           string    `json:"invoice_id"`
	CertificateID       string    `json:"certificate_id"`
	PreviousInvoiceHash string    `json:"previous_invoice_hash"`
	InvoiceHash         string    `json:"invoice_hash"`
	Signature           string    `json:"signature"`
	PublicKeyHash       string    `json:"public_key_hash"`
	Timestamp           time.Time `json:"timestamp"`
}

// chainHead is the per-(organisation, environment) chain cursor. Every
// signature advances it under optimistic concurrency; a lost update here is
// exactly the two-invoices-one-predecessor corruption the chain forbids.
type chainHead struct {
	OrgID     string    `json:"org_id"`
	CertType  cert.Type `json:"cert_type"`
	Head      string    `json:"head"`
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`

	version uint64
}
