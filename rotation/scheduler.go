// Package rotation monitors certificate expiry and drives automated
// renewal. A periodic sweep notifies organisations of approaching expiry,
// triggers renewals inside the renewal window, and retires certificates
// past their validity. Each rotation is recorded as an immutable history
// entry linking the retired certificate to its successor.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/internal/uuid"
	"github.com/hazimsaleh/fatoora/storage"
)

const (
	// NotifyThresholdDays is the expiry horizon for the one-time
	// notification.
	NotifyThresholdDays = 30
	// RenewThresholdDays is the expiry horizon for automatic renewal.
	RenewThresholdDays = 7
	// GracePeriod is how long signatures from a retired certificate remain
	// verifiable after rotation.
	GracePeriod = 7 * 24 * time.Hour
)

const actorScheduler = "rotation-scheduler"

// Notifier receives expiry warnings. The default implementation writes to
// the operational log; deployments plug in mail or webhook delivery.
type Notifier interface {
	NotifyExpiring(ctx context.Context, c cert.Projection, daysUntilExpiry int) error
}

type slogNotifier struct {
	logger *slog.Logger
}

func (n *slogNotifier) NotifyExpiring(_ context.Context, c cert.Projection, days int) error {
	n.logger.Warn("certificate expiring soon",
		"org_id", c.OrgID, "certificate_id", c.ID, "csid", c.CSID, "days_until_expiry", days)
	return nil
}

// Scheduler runs the expiry sweep.
type Scheduler struct {
	repo     storage.Repository
	manager  *cert.Manager
	log      *audit.Log
	logger   *slog.Logger
	notifier Notifier
	interval time.Duration
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier replaces the default log-based notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithInterval overrides the sweep interval (default daily).
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithClock overrides the scheduler clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a rotation scheduler.
func NewScheduler(repo storage.Repository, manager *cert.Manager, log *audit.Log, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		manager:  manager,
		log:      log,
		logger:   logger.With("component", "rotation"),
		interval: 24 * time.Hour,
		now:      time.Now,
	}
	s.notifier = &slogNotifier{logger: s.logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then on every interval tick until the context
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Scheduler) sweepAll(ctx context.Context) {
	orgs, err := s.repo.Orgs()
	if err != nil {
		s.logger.Error("listing organisations for sweep", "error", err)
		return
	}
	for _, orgID := range orgs {
		if err := s.Sweep(ctx, orgID); err != nil {
			s.logger.Error("sweep failed", "org_id", orgID, "error", err)
		}
	}
}

// Sweep examines every active certificate of an organisation. Failures are
// isolated per certificate: one broken renewal never aborts the sweep for
// the rest.
func (s *Scheduler) Sweep(ctx context.Context, orgID string) error {
	certs, err := s.manager.ListCertificates(orgID)
	if err != nil {
		return fmt.Errorf("listing certificates: %w", err)
	}

	for _, c := range certs {
		if !c.IsActive || c.Status != cert.StatusActive {
			continue
		}
		if err := s.sweepCertificate(ctx, c); err != nil {
			s.logger.Error("sweeping certificate",
				"org_id", orgID, "certificate_id", c.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) sweepCertificate(ctx context.Context, c cert.Projection) error {
	now := s.now()

	if now.After(c.ValidTo) {
		return s.manager.MarkExpired(ctx, c.OrgID, c.ID, actorScheduler)
	}

	if c.DaysUntilExpiry <= RenewThresholdDays {
		open, err := s.hasOpenRotation(c.OrgID, c.ID)
		if err != nil {
			return err
		}
		if !open {
			_, err := s.RenewCertificate(ctx, c.OrgID, c.ID, "approaching expiry", actorScheduler)
			return err
		}
		return nil
	}

	if c.DaysUntilExpiry <= NotifyThresholdDays {
		sent, err := s.manager.MarkRenewalNotified(c.OrgID, c.ID)
		if err != nil {
			return err
		}
		if sent {
			if err := s.notifier.NotifyExpiring(ctx, c, c.DaysUntilExpiry); err != nil {
				s.logger.Error("expiry notification failed",
					"org_id", c.OrgID, "certificate_id", c.ID, "error", err)
			}
			if err := s.log.Append(audit.Entry{
				OrgID: c.OrgID, CertificateID: c.ID, Action: audit.ActionRenewalNotified,
				PerformedBy: actorScheduler, Success: true,
				Details: audit.Details{Extra: map[string]string{
					"days_until_expiry": fmt.Sprintf("%d", c.DaysUntilExpiry),
				}},
			}); err != nil {
				s.logger.Error("audit append failed", "action", audit.ActionRenewalNotified, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) hasOpenRotation(orgID, certID string) (bool, error) {
	rotations, err := s.manager.ListRotations(orgID)
	if err != nil {
		return false, err
	}
	for _, r := range rotations {
		if r.OldCertificateID == certID &&
			(r.Status == cert.RotationInitiated || r.Status == cert.RotationInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) saveRotation(r *cert.RotationRecord) error {
	env, err := storage.MarshalRecord(r)
	if err != nil {
		return err
	}
	return s.repo.Put(r.OrgID, "ROTATION", r.ID, env)
}

// RenewCertificate rotates a certificate: it runs the full issuance flow
// cloned from the old certificate's subject and, only on success, retires
// the old certificate. On any failure the rotation record is marked failed
// and the old certificate's activation and status are left exactly as they
// were: a half-finished rotation must never take down a valid signer.
func (s *Scheduler) RenewCertificate(ctx context.Context, orgID, oldID, reason, actor string) (*cert.RotationRecord, error) {
	old, err := s.manager.Certificate(orgID, oldID)
	if err != nil {
		return nil, err
	}
	if !old.Status.Signable() {
		return nil, fmt.Errorf("%w: cannot renew certificate in state %s", cert.ErrInvalidState, old.Status)
	}
	if open, err := s.hasOpenRotation(orgID, oldID); err != nil {
		return nil, err
	} else if open {
		return nil, cert.ErrRotationInFlight
	}

	record := &cert.RotationRecord{
		ID:                  uuid.New(),
		OrgID:               orgID,
		OldCertificateID:    oldID,
		Status:              cert.RotationInitiated,
		Reason:              reason,
		InvoicesSignedAtOld: old.InvoicesSigned,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.saveRotation(record); err != nil {
		return nil, fmt.Errorf("recording rotation: %w", err)
	}
	if err := s.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: oldID, Action: audit.ActionRotationStarted,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Rotation: &audit.RotationDetails{
			RotationID: record.ID, OldCertificateID: oldID, Reason: reason,
		}},
	}); err != nil {
		s.logger.Error("audit append failed", "action", audit.ActionRotationStarted, "error", err)
	}

	record.Status = cert.RotationInProgress
	if err := s.saveRotation(record); err != nil {
		return nil, fmt.Errorf("recording rotation progress: %w", err)
	}

	renewalStarted := false
	if old.Status == cert.StatusActive {
		if err := s.manager.BeginRenewal(orgID, oldID); err != nil {
			return s.failRotation(record, actor, err)
		}
		renewalStarted = true
	}

	newCert, err := s.manager.CreateCertificate(ctx, orgID, old.Type, old.Subject, "", actor)
	if err != nil {
		if renewalStarted {
			if abortErr := s.manager.AbortRenewal(orgID, oldID); abortErr != nil {
				s.logger.Error("restoring certificate after failed renewal",
					"org_id", orgID, "certificate_id", oldID, "error", abortErr)
			}
		}
		return s.failRotation(record, actor, err)
	}

	if err := s.manager.MarkExpired(ctx, orgID, oldID, actor); err != nil {
		return s.failRotation(record, actor, err)
	}

	record.Status = cert.RotationCompleted
	record.NewCertificateID = newCert.ID
	record.GracePeriodEnd = s.now().UTC().Add(GracePeriod)
	record.CompletedAt = s.now().UTC()
	if err := s.saveRotation(record); err != nil {
		return nil, fmt.Errorf("recording rotation completion: %w", err)
	}
	if err := s.log.Append(audit.Entry{
		OrgID: orgID, CertificateID: newCert.ID, Action: audit.ActionRotationCompleted,
		PerformedBy: actor, Success: true,
		Details: audit.Details{Rotation: &audit.RotationDetails{
			RotationID:        record.ID,
			OldCertificateID:  oldID,
			NewCertificateID:  newCert.ID,
			Reason:            reason,
			InvoicesSignedOld: record.InvoicesSignedAtOld,
		}},
	}); err != nil {
		s.logger.Error("audit append failed", "action", audit.ActionRotationCompleted, "error", err)
	}
	return record, nil
}

func (s *Scheduler) failRotation(record *cert.RotationRecord, actor string, cause error) (*cert.RotationRecord, error) {
	record.Status = cert.RotationFailed
	if err := s.saveRotation(record); err != nil {
		s.logger.Error("recording rotation failure", "rotation_id", record.ID, "error", err)
	}
	s.log.ReportFailure(audit.Entry{
		OrgID: record.OrgID, CertificateID: record.OldCertificateID,
		Action: audit.ActionRotationFailed, PerformedBy: actor,
		Details: audit.Details{Rotation: &audit.RotationDetails{
			RotationID:       record.ID,
			OldCertificateID: record.OldCertificateID,
			Reason:           record.Reason,
		}},
	}, cause)
	return record, fmt.Errorf("renewing certificate %s: %w", record.OldCertificateID, cause)
}

// ErrNoRotation is returned by InGracePeriod when no completed rotation
// references the certificate.
var ErrNoRotation = errors.New("no completed rotation for certificate")

// InGracePeriod reports whether signatures made with a retired certificate
// are still within their verification grace period.
func (s *Scheduler) InGracePeriod(orgID, oldCertID string) (bool, error) {
	rotations, err := s.manager.ListRotations(orgID)
	if err != nil {
		return false, err
	}
	for _, r := range rotations {
		if r.OldCertificateID == oldCertID && r.Status == cert.RotationCompleted {
			return r.InGracePeriod(s.now()), nil
		}
	}
	return false, ErrNoRotation
}
