package sign

import (
	"math"
	"regexp"

	"github.com/hazimsaleh/fatoora/validation"
)

// TotalTolerance is the permitted drift between the declared total and the
// sum of line net amounts.
const TotalTolerance = 0.01

var taxNumberRE = regexp.MustCompile(`^\d{15}$`)

// Validate checks an invoice before signing. Every violation is collected
// and reported together so callers can fix a malformed invoice in one pass.
func Validate(inv *Invoice) error {
	var c validation.Collector

	if inv.Number == "" {
		c.Addf("invoice number is required")
	}
	if inv.ID == "" {
		c.Addf("invoice identifier is required")
	}
	if inv.Kind != KindStandard && inv.Kind != KindSimplified {
		c.Addf("invoice kind must be %q or %q, got %q", KindStandard, KindSimplified, inv.Kind)
	}
	if inv.IssuedAt.IsZero() {
		c.Addf("issue date/time is required")
	}

	if inv.Seller.Name == "" {
		c.Addf("seller name is required")
	}
	if !taxNumberRE.MatchString(inv.Seller.TaxNumber) {
		c.Addf("seller tax number must be exactly 15 digits, got %q", inv.Seller.TaxNumber)
	}
	if inv.Seller.Address == "" {
		c.Addf("seller address is required")
	}

	if inv.Kind == KindStandard {
		if inv.Buyer == nil || inv.Buyer.Name == "" {
			c.Addf("standard invoices require a buyer")
		}
	}

	if len(inv.Lines) == 0 {
		c.Addf("invoice requires at least one line")
	}
	for i, l := range inv.Lines {
		if l.Quantity <= 0 {
			c.Addf("line %d: quantity must be positive, got %v", i+1, l.Quantity)
		}
		if l.UnitPrice < 0 {
			c.Addf("line %d: unit price must not be negative, got %v", i+1, l.UnitPrice)
		}
	}

	if len(inv.Lines) > 0 {
		if diff := math.Abs(inv.Total - inv.NetTotal()); diff > TotalTolerance {
			c.Addf("declared total %.2f does not match line total %.2f", inv.Total, inv.NetTotal())
		}
	}

	return c.Err()
}
