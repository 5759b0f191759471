package sign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazimsaleh/fatoora/validation"
)

func scenarioInvoice() *Invoice {
	return &Invoice{
		Number:   "INV-0001",
		ID:       "3cf5ee18-ee25-44ea-a444-2c37ba7f28be",
		Kind:     KindSimplified,
		IssuedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Seller: Party{
			Name:      "Test Company Ltd",
			TaxNumber: "300000000000003",
			Address:   "King Fahd Road, Riyadh",
		},
		Lines: []Line{
			{Description: "Widget", Quantity: 10, UnitPrice: 100, TaxRate: 15},
		},
		Total: 1000,
	}
}

func TestCanonicalDocumentScenarioAmounts(t *testing.T) {
	inv := scenarioInvoice()
	assert.InDelta(t, 1000.0, inv.NetTotal(), 0.001)
	assert.InDelta(t, 150.0, inv.TaxTotal(), 0.001)
	assert.InDelta(t, 1150.0, inv.PayableAmount(), 0.001)

	doc, err := CanonicalDocument(inv, GenesisHash)
	require.NoError(t, err)
	assert.Contains(t, doc, `"payableAmount":"1150.00"`)
	assert.Contains(t, doc, `"netTotal":"1000.00"`)
	assert.Contains(t, doc, `"taxTotal":"150.00"`)
	assert.Contains(t, doc, `"previousInvoiceHash":"`+GenesisHash+`"`)
}

func TestCalculateHashDeterministic(t *testing.T) {
	inv := scenarioInvoice()
	doc1, err := CanonicalDocument(inv, GenesisHash)
	require.NoError(t, err)
	doc2, err := CanonicalDocument(inv, GenesisHash)
	require.NoError(t, err)

	assert.Equal(t, doc1, doc2)
	assert.Equal(t, CalculateHash(doc1), CalculateHash(doc2))
}

func TestCanonicalDocumentNormalizesNames(t *testing.T) {
	inv := scenarioInvoice()
	// Decomposed e followed by a combining acute accent must render in the
	// precomposed NFC form.
	inv.Seller.Name = "Cafe\u0301 Trading"
	doc, err := CanonicalDocument(inv, GenesisHash)
	require.NoError(t, err)
	assert.Contains(t, doc, "Caf\u00e9 Trading")
	assert.NotContains(t, doc, "Cafe\u0301 Trading")
}

func TestCanonicalDocumentHashChangesWithPrevious(t *testing.T) {
	inv := scenarioInvoice()
	doc1, err := CanonicalDocument(inv, GenesisHash)
	require.NoError(t, err)
	doc2, err := CanonicalDocument(inv, CalculateHash(doc1))
	require.NoError(t, err)
	assert.NotEqual(t, CalculateHash(doc1), CalculateHash(doc2))
}

func TestValidateCollectsAllViolations(t *testing.T) {
	inv := scenarioInvoice()
	inv.Number = ""
	inv.Lines = nil

	err := Validate(inv)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "invoice number is required")
	assert.Contains(t, verr.Violations, "invoice requires at least one line")
}

func TestValidateStandardRequiresBuyer(t *testing.T) {
	inv := scenarioInvoice()
	inv.Kind = KindStandard

	err := Validate(inv)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "standard invoices require a buyer")

	inv.Buyer = &Party{Name: "Buyer Corp"}
	assert.NoError(t, Validate(inv))
}

func TestValidateTotals(t *testing.T) {
	inv := scenarioInvoice()
	inv.Total = 995
	err := Validate(inv)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)

	// Within tolerance is accepted.
	inv.Total = 1000.009
	assert.NoError(t, Validate(inv))
}

func TestValidateLines(t *testing.T) {
	inv := scenarioInvoice()
	inv.Lines = []Line{
		{Description: "bad qty", Quantity: 0, UnitPrice: 100, TaxRate: 15},
		{Description: "bad price", Quantity: 1, UnitPrice: -5, TaxRate: 15},
	}
	inv.Total = inv.NetTotal()

	err := Validate(inv)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
}

func TestValidateTaxNumber(t *testing.T) {
	inv := scenarioInvoice()
	inv.Seller.TaxNumber = "12345"
	err := Validate(inv)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 1)
}
