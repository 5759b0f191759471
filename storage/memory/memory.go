// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sync"

	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func cloneEnvelope(env *storage.Envelope) *storage.Envelope {
	if env == nil {
		return nil
	}
	return &storage.Envelope{
		Ver:        env.Ver,
		Scheme:     env.Scheme,
		KeyID:      env.KeyID,
		Nonce:      util.CopyBytes(env.Nonce),
		Ciphertext: util.CopyBytes(env.Ciphertext),
		Version:    env.Version,
	}
}

func (r *Repository) Put(orgID, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(orgID, recordType, recordID, envelope)
}

func (r *Repository) putLocked(orgID, recordType, recordID string, envelope *storage.Envelope) error {
	if _, ok := r.data[orgID]; !ok {
		r.data[orgID] = make(map[string]*storage.Envelope)
	}
	r.data[orgID][makeKey(recordType, recordID)] = cloneEnvelope(envelope)
	return nil
}

func (r *Repository) Get(orgID, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(orgID, recordType, recordID)
}

func (r *Repository) getLocked(orgID, recordType, recordID string) (*storage.Envelope, error) {
	k := makeKey(recordType, recordID)
	orgData, ok := r.data[orgID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	env, ok := orgData[k]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEnvelope(env), nil
}

func (r *Repository) List(orgID, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[orgID] {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			ids = append(ids, k[len(prefix):])
		}
	}
	return ids, nil
}

func (r *Repository) Orgs() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orgs := make([]string, 0, len(r.data))
	for orgID := range r.data {
		orgs = append(orgs, orgID)
	}
	return orgs, nil
}

func (r *Repository) PutCAS(orgID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(orgID, recordType, recordID, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(orgID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(orgID, recordType, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(orgID, recordType, recordID, envelope)
	}
	// expectedVersion 0 means the record must not exist yet.
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(orgID, recordType, recordID, envelope)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(orgID string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotOrg(orgID)

	tx := &memoryBatchTx{repo: r, orgID: orgID}
	if err := fn(tx); err != nil {
		r.restoreOrg(orgID, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotOrg(orgID string) map[string]*storage.Envelope {
	original, ok := r.data[orgID]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = cloneEnvelope(v)
	}
	return cp
}

func (r *Repository) restoreOrg(orgID string, snapshot map[string]*storage.Envelope) {
	if snapshot == nil {
		delete(r.data, orgID)
	} else {
		r.data[orgID] = snapshot
	}
}

type memoryBatchTx struct {
	repo  *Repository
	orgID string
}

func (tx *memoryBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return tx.repo.putLocked(tx.orgID, recordType, recordID, envelope)
}

func (tx *memoryBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(tx.orgID, recordType, recordID, expectedVersion, envelope)
}
