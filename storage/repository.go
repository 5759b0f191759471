// Package storage provides the persistence abstraction for compliance
// records. Records are scoped by organisation and addressed by
// (recordType, recordID); every record travels inside an Envelope.
package storage

import "errors"

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrOrgNotFound is returned when the organisation has no records at all.
	ErrOrgNotFound = errors.New("organisation not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides Put and PutCAS within an atomic transaction.
// The orgID is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
}

// Repository defines the interface for compliance record storage.
//
// PutCAS enforces optimistic concurrency: the write succeeds only if the
// stored record's version equals expectedVersion (0 meaning "must not
// exist"), and the new envelope is stored with version expectedVersion+1.
// Certificate state transitions, chain-head advances and signing counters
// all go through PutCAS.
type Repository interface {
	Put(orgID string, recordType string, recordID string, envelope *Envelope) error
	Get(orgID string, recordType string, recordID string) (*Envelope, error)
	List(orgID string, recordType string) ([]string, error)
	Orgs() ([]string, error)
	PutCAS(orgID string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(orgID string, fn func(tx BatchTx) error) error
}
