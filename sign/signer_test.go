package sign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/authority"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/csr"
	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/keymat"
	"github.com/hazimsaleh/fatoora/qr"
	"github.com/hazimsaleh/fatoora/storage"
	"github.com/hazimsaleh/fatoora/storage/memory"
)

var testTime = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type okAuthority struct{}

func (okAuthority) SubmitCSR(_ context.Context, _ authority.SubmitRequest) (*authority.SubmitResponse, error) {
	return &authority.SubmitResponse{
		CSID:       "CSID-1",
		Secret:     "secret",
		RequestID:  "req",
		ValidFrom:  testTime.Format(time.RFC3339),
		ValidUntil: testTime.AddDate(1, 0, 0).Format(time.RFC3339),
	}, nil
}

type fixture struct {
	repo    storage.Repository
	signer  *Signer
	manager *cert.Manager
	log     *audit.Log
	cert    *cert.Certificate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audit.New(repo, logger)

	ring := keymat.NewRing()
	raw, err := util.NewAESKey()
	require.NoError(t, err)
	require.NoError(t, ring.AddVersion("mk-1", raw))

	manager := cert.NewManager(repo, keymat.NewService(ring, log), okAuthority{}, log, logger,
		cert.WithClock(func() time.Time { return testTime }),
	)

	ctx := context.Background()
	attrs := csr.SubjectAttributes{
		Country:          "SA",
		OrganizationName: "Test Company Ltd",
		OrganizationUnit: "300000000000003",
		CommonName:       "pos-terminal-1",
		InvoiceType:      csr.InvoiceTypeBoth,
	}
	c, err := manager.CreateCertificate(ctx, "org-1", cert.TypeProduction, attrs, "", "tester")
	require.NoError(t, err)
	_, err = manager.ApproveCertificate(ctx, "org-1", c.ID, time.Time{}, time.Time{}, "tester")
	require.NoError(t, err)
	active, err := manager.ActivateCertificate(ctx, "org-1", c.ID, "tester")
	require.NoError(t, err)

	signer := NewSigner(repo, manager, log, logger,
		WithClock(func() time.Time { return testTime }),
	)
	return &fixture{repo: repo, signer: signer, manager: manager, log: log, cert: active}
}

func invoice(n int) *Invoice {
	inv := scenarioInvoice()
	inv.Number = fmt.Sprintf("INV-%04d", n)
	inv.ID = fmt.Sprintf("inv-id-%04d", n)
	return inv
}

func TestSignScenario(t *testing.T) {
	f := newFixture(t)
	signed, err := f.signer.Sign(context.Background(), "org-1", cert.TypeProduction, invoice(1), "tester")
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, signed.PreviousInvoiceHash)
	assert.Equal(t, CalculateHash(signed.CanonicalDocument), signed.InvoiceHash)
	assert.Equal(t, Algorithm, signed.Algorithm)
	assert.Equal(t, f.cert.ID, signed.CertificateID)
	assert.Contains(t, signed.CanonicalDocument, `"payableAmount":"1150.00"`)

	ok, err := VerifySignature(signed.InvoiceHash, signed.Signature, signed.PublicKey)
	require.NoError(t, err)
	assert.True(t, ok)

	fields, err := qr.Decode(signed.QRCode)
	require.NoError(t, err)
	assert.Equal(t, "Test Company Ltd", fields.SellerName)
	assert.Equal(t, "300000000000003", fields.TaxNumber)
	assert.Equal(t, "1150.00", fields.InvoiceTotal)
	assert.Equal(t, "150.00", fields.TaxTotal)
	assert.Equal(t, signed.InvoiceHash, fields.InvoiceHash)
	assert.Equal(t, signed.Signature, fields.Signature)
	assert.NotEmpty(t, fields.PublicKey)

	got, err := f.manager.Certificate("org-1", f.cert.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.InvoicesSigned)

	entries, err := f.log.List("org-1", audit.ActionInvoiceSigned)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, signed.InvoiceHash, entries[0].Details.Signing.InvoiceHash)
}

func TestSignChainsSequentialInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 5
	var signed []*SignedInvoice
	for i := 1; i <= n; i++ {
		s, err := f.signer.Sign(ctx, "org-1", cert.TypeProduction, invoice(i), "tester")
		require.NoError(t, err)
		signed = append(signed, s)
	}

	assert.Equal(t, GenesisHash, signed[0].PreviousInvoiceHash)
	for i := 1; i < n; i++ {
		assert.Equal(t, signed[i-1].InvoiceHash, signed[i].PreviousInvoiceHash,
			"invoice %d must chain to its predecessor", i)
	}

	records, err := f.signer.Records("org-1", cert.TypeProduction)
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, signed[i].InvoiceHash, r.InvoiceHash)
	}

	report, err := f.signer.VerifyChain("org-1", cert.TypeProduction)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, n, report.Length)

	got, err := f.manager.Certificate("org-1", f.cert.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), got.InvoicesSigned)
}

func TestSignValidationRejected(t *testing.T) {
	f := newFixture(t)
	inv := invoice(1)
	inv.Number = ""
	inv.Lines = nil

	_, err := f.signer.Sign(context.Background(), "org-1", cert.TypeProduction, inv, "tester")
	require.Error(t, err)

	// Nothing was signed or chained.
	records, recErr := f.signer.Records("org-1", cert.TypeProduction)
	require.NoError(t, recErr)
	assert.Empty(t, records)
}

func TestSignRequiresActiveCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.RevokeCertificate(ctx, "org-1", f.cert.ID, "compromise", "tester")
	require.NoError(t, err)

	_, err = f.signer.Sign(ctx, "org-1", cert.TypeProduction, invoice(1), "tester")
	assert.ErrorIs(t, err, cert.ErrNotFound)
}

func TestSignContinuesDuringRenewal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.BeginRenewal("org-1", f.cert.ID))

	signed, err := f.signer.Sign(ctx, "org-1", cert.TypeProduction, invoice(1), "tester")
	require.NoError(t, err)
	assert.Equal(t, f.cert.ID, signed.CertificateID)
}

// casConflictRepo simulates a second service instance racing the chain head.
type casConflictRepo struct {
	storage.Repository
}

func (r *casConflictRepo) Batch(orgID string, fn func(tx storage.BatchTx) error) error {
	return r.Repository.Batch(orgID, func(tx storage.BatchTx) error {
		return fn(&casConflictTx{BatchTx: tx})
	})
}

type casConflictTx struct {
	storage.BatchTx
}

func (tx *casConflictTx) PutCAS(recordType, recordID string, expectedVersion uint64, env *storage.Envelope) error {
	if recordType == recordTypeChain {
		return storage.ErrCASFailed
	}
	return tx.BatchTx.PutCAS(recordType, recordID, expectedVersion, env)
}

func TestSignConcurrentWriterBreaksChain(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	racy := NewSigner(&casConflictRepo{Repository: f.repo}, f.manager, f.log, logger,
		WithClock(func() time.Time { return testTime }),
	)

	_, err := racy.Sign(context.Background(), "org-1", cert.TypeProduction, invoice(1), "tester")
	assert.ErrorIs(t, err, ErrChainIntegrity)
}

var errStorageDown = errors.New("storage unavailable")

// recordWriteFailRepo fails the signing-record write inside the batch.
type recordWriteFailRepo struct {
	storage.Repository
}

func (r *recordWriteFailRepo) Batch(orgID string, fn func(tx storage.BatchTx) error) error {
	return r.Repository.Batch(orgID, func(tx storage.BatchTx) error {
		return fn(&recordWriteFailTx{BatchTx: tx})
	})
}

type recordWriteFailTx struct {
	storage.BatchTx
}

func (tx *recordWriteFailTx) Put(recordType, recordID string, env *storage.Envelope) error {
	if recordType == recordTypeInvoice {
		return errStorageDown
	}
	return tx.BatchTx.Put(recordType, recordID, env)
}

func TestSignRollsBackHeadAndCounterOnRecordFailure(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := NewSigner(&recordWriteFailRepo{Repository: f.repo}, f.manager, f.log, logger,
		WithClock(func() time.Time { return testTime }),
	)

	_, err := failing.Sign(context.Background(), "org-1", cert.TypeProduction, invoice(1), "tester")
	require.ErrorIs(t, err, errStorageDown)

	// The aborted attempt advanced nothing: the next signature still roots
	// at genesis and the counter reflects successful signatures only.
	signed, err := f.signer.Sign(context.Background(), "org-1", cert.TypeProduction, invoice(2), "tester")
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, signed.PreviousInvoiceHash)
	assert.Equal(t, uint64(1), signed.Sequence)

	got, err := f.manager.Certificate("org-1", f.cert.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.InvoicesSigned)
}

func TestVerifySignatureMismatch(t *testing.T) {
	f := newFixture(t)
	signed, err := f.signer.Sign(context.Background(), "org-1", cert.TypeProduction, invoice(1), "tester")
	require.NoError(t, err)

	otherDoc, err := CanonicalDocument(invoice(2), GenesisHash)
	require.NoError(t, err)

	// Wrong hash for this signature: false, no error.
	ok, err := VerifySignature(CalculateHash(otherDoc), signed.Signature, signed.PublicKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// Malformed input is the only error path.
	_, err = VerifySignature("not-base64!!", signed.Signature, signed.PublicKey)
	assert.Error(t, err)
	_, err = VerifySignature(signed.InvoiceHash, "not-base64!!", signed.PublicKey)
	assert.Error(t, err)
	_, err = VerifySignature(signed.InvoiceHash, signed.Signature, "not a pem")
	assert.Error(t, err)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := f.signer.Sign(ctx, "org-1", cert.TypeProduction, invoice(i), "tester")
		require.NoError(t, err)
	}

	records, err := f.signer.Records("org-1", cert.TypeProduction)
	require.NoError(t, err)
	tampered := records[1]
	tampered.PreviousInvoiceHash = CalculateHash("forged")
	env, err := storage.MarshalRecord(&tampered)
	require.NoError(t, err)
	require.NoError(t, f.repo.Put("org-1", recordTypeInvoice, tampered.ID, env))

	report, err := f.signer.VerifyChain("org-1", cert.TypeProduction)
	require.NoError(t, err)
	assert.False(t, report.Intact)
	assert.Equal(t, tampered.ID, report.BrokenAt)
}

func TestChainsAreIndependentPerEnvironment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attrs := csr.SubjectAttributes{
		Country:          "SA",
		OrganizationName: "Test Company Ltd",
		OrganizationUnit: "300000000000003",
		CommonName:       "pos-terminal-2",
		InvoiceType:      csr.InvoiceTypeBoth,
	}
	c, err := f.manager.CreateCertificate(ctx, "org-1", cert.TypeCompliance, attrs, "", "tester")
	require.NoError(t, err)
	_, err = f.manager.ApproveCertificate(ctx, "org-1", c.ID, time.Time{}, time.Time{}, "tester")
	require.NoError(t, err)
	_, err = f.manager.ActivateCertificate(ctx, "org-1", c.ID, "tester")
	require.NoError(t, err)

	prod, err := f.signer.Sign(ctx, "org-1", cert.TypeProduction, invoice(1), "tester")
	require.NoError(t, err)
	comp, err := f.signer.Sign(ctx, "org-1", cert.TypeCompliance, invoice(2), "tester")
	require.NoError(t, err)

	// Both chains start at genesis.
	assert.Equal(t, GenesisHash, prod.PreviousInvoiceHash)
	assert.Equal(t, GenesisHash, comp.PreviousInvoiceHash)

	prodRecords, err := f.signer.Records("org-1", cert.TypeProduction)
	require.NoError(t, err)
	compRecords, err := f.signer.Records("org-1", cert.TypeCompliance)
	require.NoError(t, err)
	assert.Len(t, prodRecords, 1)
	assert.Len(t, compRecords, 1)
}
