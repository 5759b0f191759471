package sign

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/keymat"
	"github.com/hazimsaleh/fatoora/qr"
	"github.com/hazimsaleh/fatoora/storage"
)

// GenesisHash roots every organisation's invoice chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Algorithm identifies the signature scheme carried on every stamp.
const Algorithm = "ECDSA-SHA256"

// ErrChainIntegrity indicates a signature was attempted against a stale
// previous hash. It surfaces a concurrent-writer violation and the signing
// must be retried from a fresh chain read.
var ErrChainIntegrity = errors.New("invoice chain integrity violation")

// Record types within an organisation's bucket.
const (
	recordTypeChain   = "CHAIN"
	recordTypeInvoice = "INVOICE"
)

// Signer produces hash-chained, signed invoice artifacts. All signing for
// one (organisation, environment) runs through a single-writer critical
// section; storage-level optimistic concurrency backstops the lock across
// service instances.
type Signer struct {
	repo   storage.Repository
	certs  *cert.Manager
	log    *audit.Log
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the signer clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates an invoice signer.
func NewSigner(repo storage.Repository, certs *cert.Manager, log *audit.Log, logger *slog.Logger, opts ...Option) *Signer {
	s := &Signer{
		repo:   repo,
		certs:  certs,
		log:    log,
		logger: logger.With("component", "sign"),
		now:    time.Now,
		chains: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signer) chainLock(orgID string, certType cert.Type) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orgID + ":" + string(certType)
	lock, ok := s.chains[key]
	if !ok {
		lock = &sync.Mutex{}
		s.chains[key] = lock
	}
	return lock
}

// Sign validates, canonicalizes and signs an invoice under the
// organisation's active certificate for the given environment, advancing the
// hash chain by exactly one link.
func (s *Signer) Sign(ctx context.Context, orgID string, certType cert.Type, inv *Invoice, actor string) (*SignedInvoice, error) {
	if err := Validate(inv); err != nil {
		return nil, err
	}

	lock := s.chainLock(orgID, certType)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.certs.ActiveCertificate(orgID, certType)
	if err != nil {
		return nil, err
	}
	// No silent fallback to a retired key.
	if !c.Status.Signable() {
		return nil, fmt.Errorf("%w: certificate %s is %s", cert.ErrInvalidState, c.ID, c.Status)
	}

	head, err := s.loadChain(orgID, certType)
	if err != nil {
		return nil, err
	}

	doc, err := CanonicalDocument(inv, head.Head)
	if err != nil {
		return nil, err
	}
	hash := CalculateHash(doc)

	signature, err := s.stamp(c, doc, actor)
	if err != nil {
		s.log.ReportFailure(audit.Entry{
			OrgID: orgID, CertificateID: c.ID, Action: audit.ActionInvoiceSigned, PerformedBy: actor,
			Details: audit.Details{Signing: &audit.SigningDetails{InvoiceID: inv.ID}},
		}, err)
		return nil, err
	}

	pubB64, err := publicKeyBase64(c.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	qrPayload, err := qr.Encode(qr.Fields{
		SellerName:   util.Normalize(inv.Seller.Name),
		TaxNumber:    inv.Seller.TaxNumber,
		Timestamp:    inv.IssuedAt.UTC().Format(time.RFC3339),
		InvoiceTotal: formatAmount(inv.PayableAmount()),
		TaxTotal:     formatAmount(inv.TaxTotal()),
		InvoiceHash:  hash,
		Signature:    signature,
		PublicKey:    pubB64,
		Algorithm:    Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding QR payload: %w", err)
	}

	previous := head.Head
	head.Head = hash
	head.Sequence++
	head.UpdatedAt = s.now().UTC()

	record := &Record{
		ID:                  fmt.Sprintf("%s-%012d", certType, head.Sequence),
		CertType:            certType,
		InvoiceID:           inv.ID,
		CertificateID:       c.ID,
		PreviousInvoiceHash: previous,
		InvoiceHash:         hash,
		Signature:           signature,
		PublicKeyHash:       CalculateHash(c.PublicKeyPEM),
		Timestamp:           s.now().UTC(),
	}

	headEnv, err := storage.MarshalRecord(head)
	if err != nil {
		return nil, err
	}
	headEnv.Version = head.version + 1
	recordEnv, err := storage.MarshalRecord(record)
	if err != nil {
		return nil, err
	}

	// Head advance, signing record and counter land in one transaction: a
	// failed record write must not leave the head pointing at a signature
	// that was never stored.
	err = s.repo.Batch(orgID, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeChain, string(certType), head.version, headEnv); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return fmt.Errorf("%w: previous hash %s is stale", ErrChainIntegrity, previous)
			}
			return fmt.Errorf("advancing invoice chain: %w", err)
		}
		if err := tx.Put(recordTypeInvoice, record.ID, recordEnv); err != nil {
			return fmt.Errorf("storing signing record: %w", err)
		}
		return s.certs.IncrementInvoicesSignedTx(tx, c)
	})
	if err != nil {
		return nil, err
	}

	if err := s.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: c.ID, Action: audit.ActionInvoiceSigned,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Signing: &audit.SigningDetails{
			InvoiceID:    inv.ID,
			InvoiceHash:  hash,
			PreviousHash: previous,
		}},
	}); err != nil {
		s.logger.Error("audit append failed", "action", audit.ActionInvoiceSigned, "error", err)
	}

	return &SignedInvoice{
		InvoiceID:           inv.ID,
		CertificateID:       c.ID,
		CanonicalDocument:   doc,
		InvoiceHash:         hash,
		PreviousInvoiceHash: previous,
		Signature:           signature,
		PublicKey:           c.PublicKeyPEM,
		Algorithm:           Algorithm,
		QRCode:              qrPayload,
		Sequence:            head.Sequence,
	}, nil
}

// stamp signs the canonical document's digest. The decrypted key lives in a
// locked buffer for the duration of the one signature and is destroyed
// before returning.
func (s *Signer) stamp(c *cert.Certificate, doc, actor string) (string, error) {
	buf, err := s.certs.DecryptPrivateKey(c, actor, "invoice signing")
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	priv, err := keymat.ParsePrivateKey(buf.Bytes())
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(doc))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing invoice digest: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature checks a stamp against the Base64 invoice hash and the
// signer's public key. A mismatched signature returns false with no error;
// malformed input is the only error path.
func VerifySignature(invoiceHash, signature, publicKeyPEM string) (bool, error) {
	digest, err := base64.StdEncoding.DecodeString(invoiceHash)
	if err != nil {
		return false, fmt.Errorf("decoding invoice hash: %w", err)
	}
	if len(digest) != sha256.Size {
		return false, fmt.Errorf("invoice hash is %d bytes, want %d", len(digest), sha256.Size)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	pub, err := keymat.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return false, err
	}
	return ecdsa.VerifyASN1(pub, digest, sig), nil
}

func publicKeyBase64(pubPEM string) (string, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return "", fmt.Errorf("invalid public key PEM")
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}
