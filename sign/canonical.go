package sign

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazimsaleh/fatoora/internal/util"
)

// The canonical document is the exact byte sequence the invoice hash is
// computed over. Field order is fixed by struct declaration order, amounts
// are rendered with two decimals, timestamps as RFC 3339 UTC and names in
// Unicode NFC. Any change here invalidates every previously signed chain.

type canonicalParty struct {
	Name      string `json:"name"`
	TaxNumber string `json:"taxNumber,omitempty"`
	Address   string `json:"address,omitempty"`
}

type canonicalLine struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TaxRate     string `json:"taxRate"`
	NetAmount   string `json:"netAmount"`
	TaxAmount   string `json:"taxAmount"`
}

type canonicalDocument struct {
	InvoiceNumber       string          `json:"invoiceNumber"`
	InvoiceID           string          `json:"invoiceId"`
	InvoiceKind         string          `json:"invoiceKind"`
	IssuedAt            string          `json:"issuedAt"`
	PreviousInvoiceHash string          `json:"previousInvoiceHash"`
	Seller              canonicalParty  `json:"seller"`
	Buyer               *canonicalParty `json:"buyer,omitempty"`
	Lines               []canonicalLine `json:"lines"`
	NetTotal            string          `json:"netTotal"`
	TaxTotal            string          `json:"taxTotal"`
	PayableAmount       string          `json:"payableAmount"`
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func canonicalizeParty(p Party) canonicalParty {
	return canonicalParty{
		Name:      util.Normalize(p.Name),
		TaxNumber: p.TaxNumber,
		Address:   util.Normalize(p.Address),
	}
}

// CanonicalDocument renders the invoice, chained to the previous hash, as
// its deterministic canonical byte sequence.
func CanonicalDocument(inv *Invoice, previousHash string) (string, error) {
	doc := canonicalDocument{
		InvoiceNumber:       inv.Number,
		InvoiceID:           inv.ID,
		InvoiceKind:         string(inv.Kind),
		IssuedAt:            inv.IssuedAt.UTC().Format(time.RFC3339),
		PreviousInvoiceHash: previousHash,
		Seller:              canonicalizeParty(inv.Seller),
		NetTotal:            formatAmount(inv.NetTotal()),
		TaxTotal:            formatAmount(inv.TaxTotal()),
		PayableAmount:       formatAmount(inv.PayableAmount()),
	}
	if inv.Buyer != nil {
		buyer := canonicalizeParty(*inv.Buyer)
		doc.Buyer = &buyer
	}
	doc.Lines = make([]canonicalLine, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		doc.Lines = append(doc.Lines, canonicalLine{
			Description: util.Normalize(l.Description),
			Quantity:    formatAmount(l.Quantity),
			UnitPrice:   formatAmount(l.UnitPrice),
			TaxRate:     formatAmount(l.TaxRate),
			NetAmount:   formatAmount(l.NetAmount()),
			TaxAmount:   formatAmount(l.TaxAmount()),
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("rendering canonical document: %w", err)
	}
	return string(data), nil
}

// CalculateHash is the Base64-encoded SHA-256 of the canonical document.
// Pure function: identical input always yields identical output.
func CalculateHash(doc string) string {
	digest := sha256.Sum256([]byte(doc))
	return base64.StdEncoding.EncodeToString(digest[:])
}
