// Package cert manages the certificate lifecycle against the tax authority:
// CSID issuance, approval, activation, revocation and expiry. State
// transitions are guarded by optimistic concurrency so scheduled sweeps and
// operator actions cannot race each other into an illegal state.
package cert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/authority"
	"github.com/hazimsaleh/fatoora/csr"
	"github.com/hazimsaleh/fatoora/internal/uuid"
	"github.com/hazimsaleh/fatoora/keymat"
	"github.com/hazimsaleh/fatoora/storage"
)

// Manager orchestrates the certificate state machine.
type Manager struct {
	repo      storage.Repository
	keys      *keymat.Service
	authority authority.Client
	log       *audit.Log
	logger    *slog.Logger
	now       func() time.Time

	retryAttempts int
	retryBase     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRetry overrides the authority retry policy.
func WithRetry(attempts int, base time.Duration) Option {
	return func(m *Manager) {
		m.retryAttempts = attempts
		m.retryBase = base
	}
}

// NewManager creates a certificate lifecycle manager.
func NewManager(repo storage.Repository, keys *keymat.Service, client authority.Client, log *audit.Log, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:          repo,
		keys:          keys,
		authority:     client,
		log:           log,
		logger:        logger.With("component", "cert"),
		now:           time.Now,
		retryAttempts: 3,
		retryBase:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func keyAAD(orgID, certID string) []byte {
	return []byte(orgID + ":" + certID)
}

// CreateCertificate runs the full issuance flow: keypair generation,
// envelope encryption, CSR assembly and authority submission. On authority
// rejection a FAILED record is stored for audit lineage and no certificate
// is ever activated.
func (m *Manager) CreateCertificate(ctx context.Context, orgID string, certType Type, attrs csr.SubjectAttributes, otp, actor string) (*Certificate, error) {
	if err := csr.ValidateSubject(attrs); err != nil {
		return nil, err
	}

	kp, err := m.keys.GenerateKeyPair()
	if err != nil {
		m.log.ReportFailure(audit.Entry{OrgID: orgID, Action: audit.ActionKeyPairGenerated, PerformedBy: actor}, err)
		return nil, err
	}
	if err := m.log.Append(audit.Entry{OrgID: orgID, Action: audit.ActionKeyPairGenerated, PerformedBy: actor, Success: true}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionKeyPairGenerated, "error", err)
	}

	certID := uuid.New()

	priv, err := keymat.ParsePrivateKey(kp.PrivateDER)
	if err != nil {
		return nil, err
	}
	request, err := csr.BuildRequest(attrs, priv)
	if err != nil {
		return nil, err
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCSRGenerated,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Extra: map[string]string{"fingerprint": request.Fingerprint}},
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCSRGenerated, "error", err)
	}

	encKey, err := m.keys.EncryptPrivateKey(kp, keyAAD(orgID, certID))
	if err != nil {
		return nil, err
	}

	c := &Certificate{
		ID:             certID,
		OrgID:          orgID,
		Type:           certType,
		InvoiceType:    attrs.InvoiceType,
		Status:         StatusPending,
		EncryptedKey:   *encKey,
		PublicKeyPEM:   kp.PublicPEM,
		Subject:        attrs,
		CSRFingerprint: request.Fingerprint,
		CreatedAt:      m.now().UTC(),
	}

	resp, err := m.submitWithRetry(ctx, authority.SubmitRequest{
		OrgID:       orgID,
		Environment: certType.Environment(),
		CSRPEM:      request.PEM,
		OTP:         otp,
	})
	if err != nil {
		c.Status = StatusFailed
		if saveErr := m.saveCertificateCAS(c); saveErr != nil {
			m.logger.Error("storing failed certificate", "certificate_id", certID, "error", saveErr)
		}
		m.log.ReportFailure(audit.Entry{
			OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateFailed, PerformedBy: actor,
		}, err)
		return nil, err
	}

	c.CSID = resp.CSID
	c.Secret = resp.Secret
	c.RequestID = resp.RequestID
	c.ValidFrom = parseAuthorityTime(resp.ValidFrom)
	c.ValidTo = parseAuthorityTime(resp.ValidUntil)

	if err := m.saveCertificateCAS(c); err != nil {
		return nil, fmt.Errorf("storing certificate: %w", err)
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateCreated,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Extra: map[string]string{"csid": resp.CSID, "type": string(certType)}},
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCertificateCreated, "error", err)
	}
	return c, nil
}

func parseAuthorityTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ApproveCertificate applies the authority's approval: PENDING becomes
// ACTIVE and the validity window is populated from the approval response.
// Zero times keep the window recorded at submission.
func (m *Manager) ApproveCertificate(ctx context.Context, orgID, certID string, validFrom, validTo time.Time, actor string) (*Certificate, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot approve certificate in state %s", ErrInvalidState, c.Status)
	}
	c.Status = StatusActive
	if !validFrom.IsZero() {
		c.ValidFrom = validFrom.UTC()
	}
	if !validTo.IsZero() {
		c.ValidTo = validTo.UTC()
	}
	if err := m.saveCertificateCAS(c); err != nil {
		return nil, err
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateApproved,
		PerformedBy: actor, Success: true,
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCertificateApproved, "error", err)
	}
	return c, nil
}

// ActivateCertificate marks an approved certificate as the signing
// certificate for its (organisation, environment). At most one certificate
// may be active per environment; explicit rotation is the only path that
// swaps it.
func (m *Manager) ActivateCertificate(ctx context.Context, orgID, certID, actor string) (*Certificate, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot activate certificate in state %s", ErrInvalidState, c.Status)
	}
	if c.IsActive {
		return c, nil
	}

	others, err := m.listCertificates(orgID)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if other.ID != c.ID && other.Type == c.Type && other.IsActive && other.Status.Signable() {
			return nil, fmt.Errorf("%w: certificate %s", ErrActiveExists, other.ID)
		}
	}

	c.IsActive = true
	if err := m.saveCertificateCAS(c); err != nil {
		return nil, err
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateActivated,
		PerformedBy: actor, Success: true,
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCertificateActivated, "error", err)
	}
	return c, nil
}

// RevokeCertificate moves any non-terminal certificate to REVOKED. The
// transition is terminal and irreversible.
func (m *Manager) RevokeCertificate(ctx context.Context, orgID, certID, reason, actor string) (*Certificate, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot revoke certificate in state %s", ErrInvalidState, c.Status)
	}
	c.Status = StatusRevoked
	c.IsActive = false
	if err := m.saveCertificateCAS(c); err != nil {
		return nil, err
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateRevoked,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Extra: map[string]string{"reason": reason}},
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCertificateRevoked, "error", err)
	}
	return c, nil
}

// MarkExpired transitions a certificate past its validity window to
// EXPIRED and deactivates it.
func (m *Manager) MarkExpired(ctx context.Context, orgID, certID, actor string) error {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: cannot expire certificate in state %s", ErrInvalidState, c.Status)
	}
	c.Status = StatusExpired
	c.IsActive = false
	if err := m.saveCertificateCAS(c); err != nil {
		return err
	}
	if err := m.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: certID, Action: audit.ActionCertificateExpired,
		PerformedBy: actor, Success: true,
	}); err != nil {
		m.logger.Error("audit append failed", "action", audit.ActionCertificateExpired, "error", err)
	}
	return nil
}

// BeginRenewal marks an ACTIVE certificate as having a renewal request in
// flight. Signing continues under it until the rotation completes.
func (m *Manager) BeginRenewal(orgID, certID string) error {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return err
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: cannot begin renewal in state %s", ErrInvalidState, c.Status)
	}
	c.Status = StatusRenewalPending
	return m.saveCertificateCAS(c)
}

// AbortRenewal restores a certificate from RENEWAL_PENDING back to ACTIVE
// after a failed rotation, leaving its activation untouched.
func (m *Manager) AbortRenewal(orgID, certID string) error {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return err
	}
	if c.Status != StatusRenewalPending {
		return fmt.Errorf("%w: cannot abort renewal in state %s", ErrInvalidState, c.Status)
	}
	c.Status = StatusActive
	return m.saveCertificateCAS(c)
}

// MarkRenewalNotified records that the expiry notification was sent.
// Returns false if it had already been sent, making notification
// idempotent across sweeps.
func (m *Manager) MarkRenewalNotified(orgID, certID string) (bool, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return false, err
	}
	if !c.RenewalNotifiedAt.IsZero() {
		return false, nil
	}
	c.RenewalNotifiedAt = m.now().UTC()
	if err := m.saveCertificateCAS(c); err != nil {
		return false, err
	}
	return true, nil
}

// Project returns the redacted view of c as of the manager clock.
func (m *Manager) Project(c *Certificate) Projection {
	return c.Project(m.now())
}

// GetCertificate returns the redacted projection of a certificate.
// Redaction at this boundary is mandatory: key material, the authority
// secret and one-time passwords never leave the package through it.
func (m *Manager) GetCertificate(orgID, certID string) (*Projection, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return nil, err
	}
	p := c.Project(m.now())
	return &p, nil
}

// ListCertificates returns redacted projections of every certificate of an
// organisation.
func (m *Manager) ListCertificates(orgID string) ([]Projection, error) {
	certs, err := m.listCertificates(orgID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	projections := make([]Projection, 0, len(certs))
	for _, c := range certs {
		projections = append(projections, c.Project(now))
	}
	return projections, nil
}

// ActiveCertificate returns the full record of the active, signable
// certificate for an (organisation, environment). For in-module use by the
// signer and rotation scheduler; external callers go through projections.
func (m *Manager) ActiveCertificate(orgID string, certType Type) (*Certificate, error) {
	certs, err := m.listCertificates(orgID)
	if err != nil {
		return nil, err
	}
	for _, c := range certs {
		if c.Type == certType && c.IsActive && c.Status.Signable() {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no active %s certificate for %s: %w", certType, orgID, ErrNotFound)
}

// Certificate returns the full record by ID, for in-module collaborators.
func (m *Manager) Certificate(orgID, certID string) (*Certificate, error) {
	return m.loadCertificate(orgID, certID)
}

// CheckExpiry evaluates a certificate's validity window against the
// manager clock.
func (m *Manager) CheckExpiry(orgID, certID string) (*ExpiryCheck, error) {
	c, err := m.loadCertificate(orgID, certID)
	if err != nil {
		return nil, err
	}
	check := c.CheckExpiry(m.now())
	return &check, nil
}

// IncrementInvoicesSignedTx advances the persisted signing counter inside
// the caller's storage batch, so the counter lands atomically with the chain
// head and signing record. A concurrent certificate transition surfaces as
// storage.ErrCASFailed and aborts the whole batch.
func (m *Manager) IncrementInvoicesSignedTx(tx storage.BatchTx, c *Certificate) error {
	c.InvoicesSigned++
	env, err := m.sealCertificate(c)
	if err != nil {
		c.InvoicesSigned--
		return err
	}
	env.Version = c.version + 1
	if err := tx.PutCAS(recordTypeCert, c.ID, c.version, env); err != nil {
		c.InvoicesSigned--
		return fmt.Errorf("advancing signed counter: %w", err)
	}
	c.version = env.Version
	return nil
}

// DecryptPrivateKey releases the certificate's private key for a single
// signing or CSR operation. The access is audited by the key material
// service before any plaintext is produced.
func (m *Manager) DecryptPrivateKey(c *Certificate, requester, purpose string) (*memguard.LockedBuffer, error) {
	return m.keys.DecryptPrivateKey(&c.EncryptedKey, c.OrgID, c.ID, requester, purpose, keyAAD(c.OrgID, c.ID))
}
