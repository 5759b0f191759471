// Package audit provides the append-only compliance audit trail. Every
// certificate and signing operation writes an entry here; entries are never
// mutated or deleted. Each append is also mirrored to structured operational
// logging.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazimsaleh/fatoora/internal/uuid"
	"github.com/hazimsaleh/fatoora/storage"
)

const recordType = "AUDIT"

// Action identifies the type of security-relevant operation being logged.
type Action string

const (
	ActionKeyPairGenerated     Action = "keypair_generated"
	ActionPrivateKeyAccessed   Action = "private_key_accessed"
	ActionMasterKeyRotated     Action = "master_key_rotated"
	ActionCSRGenerated         Action = "csr_generated"
	ActionCertificateCreated   Action = "certificate_created"
	ActionCertificateApproved  Action = "certificate_approved"
	ActionCertificateActivated Action = "certificate_activated"
	ActionCertificateRevoked   Action = "certificate_revoked"
	ActionCertificateExpired   Action = "certificate_expired"
	ActionCertificateFailed    Action = "certificate_failed"
	ActionRenewalNotified      Action = "renewal_notified"
	ActionRotationStarted      Action = "rotation_started"
	ActionRotationCompleted    Action = "rotation_completed"
	ActionRotationFailed       Action = "rotation_failed"
	ActionInvoiceSigned        Action = "invoice_signed"
)

// KeyAccessDetails records why decrypted key material was released.
type KeyAccessDetails struct {
	Purpose     string `json:"purpose"`
	MasterKeyID string `json:"master_key_id,omitempty"`
}

// RotationDetails records a rotation transition.
type RotationDetails struct {
	RotationID        string `json:"rotation_id"`
	OldCertificateID  string `json:"old_certificate_id"`
	NewCertificateID  string `json:"new_certificate_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
	InvoicesSignedOld uint64 `json:"invoices_signed_old,omitempty"`
}

// SigningDetails records a single invoice signing operation.
type SigningDetails struct {
	InvoiceID    string `json:"invoice_id"`
	InvoiceHash  string `json:"invoice_hash"`
	PreviousHash string `json:"previous_hash"`
}

// Details is a tagged union of per-action detail shapes. Exactly one typed
// field is set when the action is known; Extra is the fallback for
// genuinely unstructured data.
type Details struct {
	KeyAccess *KeyAccessDetails `json:"key_access,omitempty"`
	Rotation  *RotationDetails  `json:"rotation,omitempty"`
	Signing   *SigningDetails   `json:"signing,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Entry is a single audit record.
type Entry struct {
	ID            string  `json:"id"`
	OrgID         string  `json:"org_id"`
	CertificateID string  `json:"certificate_id,omitempty"`
	Action        Action  `json:"action"`
	PerformedBy   string  `json:"performed_by"`
	Success       bool    `json:"success"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	Details       Details `json:"details,omitzero"`
	CreatedAt     string  `json:"created_at"`
}

// Log is the append-only audit trail backed by the storage repository.
type Log struct {
	repo   storage.Repository
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Log writing to repo and mirroring to logger.
func New(repo storage.Repository, logger *slog.Logger) *Log {
	return &Log{
		repo:   repo,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// Append persists the entry and mirrors it to the operational log. The
// returned error matters for callers with a hard audit contract (private key
// access must not proceed if the append fails); all other callers report it
// to operational logging without masking their own error.
func (l *Log) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt == "" {
		entry.CreatedAt = l.now().UTC().Format(time.RFC3339Nano)
	}

	env, err := storage.MarshalRecord(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	if err := l.repo.Put(entry.OrgID, recordType, entry.ID, env); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}

	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("action", string(entry.Action)),
		slog.String("org_id", entry.OrgID),
		slog.String("certificate_id", entry.CertificateID),
		slog.String("performed_by", entry.PerformedBy),
		slog.Bool("success", entry.Success),
	)
	return nil
}

// ReportFailure appends a failed-operation entry, routing any append error
// to operational logging so the caller's original error is preserved.
func (l *Log) ReportFailure(entry Entry, opErr error) {
	entry.Success = false
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if err := l.Append(entry); err != nil {
		l.logger.Error("audit append failed", "action", string(entry.Action), "org_id", entry.OrgID, "error", err)
	}
}

// List returns all entries for an organisation, newest first. An empty
// action matches all actions.
func (l *Log) List(orgID string, action Action) ([]Entry, error) {
	ids, err := l.repo.List(orgID, recordType)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		env, err := l.repo.Get(orgID, recordType, id)
		if err != nil || env == nil {
			continue
		}
		var entry Entry
		if err := storage.UnmarshalRecord(env, &entry); err != nil {
			continue
		}
		if action != "" && entry.Action != action {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt > entries[j].CreatedAt
	})
	return entries, nil
}
