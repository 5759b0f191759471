package cert

import (
	"errors"
	"fmt"

	"github.com/hazimsaleh/fatoora/storage"
)

// Record types within an organisation's bucket.
const (
	recordTypeCert     = "CERT"
	recordTypeRotation = "ROTATION"
)

// certRecordAAD binds a sealed certificate record to its identity so a
// record cannot be replayed under another organisation or certificate ID.
func certRecordAAD(orgID, certID string) []byte {
	return []byte("cert-record:" + orgID + ":" + certID)
}

func (m *Manager) loadCertificate(orgID, certID string) (*Certificate, error) {
	env, err := m.repo.Get(orgID, recordTypeCert, certID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrOrgNotFound) {
			return nil, fmt.Errorf("%s: %w", certID, ErrNotFound)
		}
		return nil, err
	}
	var c Certificate
	if err := m.keys.OpenRecord(env, &c, certRecordAAD(orgID, certID)); err != nil {
		return nil, fmt.Errorf("decoding certificate %s: %w", certID, err)
	}
	c.version = env.Version
	return &c, nil
}

// sealCertificate encrypts the record at rest. Certificate records carry the
// envelope-encrypted private key and the authority secret, so they never hit
// storage as plain JSON.
func (m *Manager) sealCertificate(c *Certificate) (*storage.Envelope, error) {
	return m.keys.SealRecord(c, certRecordAAD(c.OrgID, c.ID))
}

// saveCertificateCAS persists c against the version it was loaded at. A
// concurrent writer surfaces as storage.ErrCASFailed and the caller's
// transition is rejected.
func (m *Manager) saveCertificateCAS(c *Certificate) error {
	env, err := m.sealCertificate(c)
	if err != nil {
		return err
	}
	env.Version = c.version + 1
	if err := m.repo.PutCAS(c.OrgID, recordTypeCert, c.ID, c.version, env); err != nil {
		return err
	}
	c.version = env.Version
	return nil
}

func (m *Manager) listCertificates(orgID string) ([]*Certificate, error) {
	ids, err := m.repo.List(orgID, recordTypeCert)
	if err != nil {
		return nil, err
	}
	certs := make([]*Certificate, 0, len(ids))
	for _, id := range ids {
		c, err := m.loadCertificate(orgID, id)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}

func (m *Manager) loadRotation(orgID, rotationID string) (*RotationRecord, error) {
	env, err := m.repo.Get(orgID, recordTypeRotation, rotationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrOrgNotFound) {
			return nil, fmt.Errorf("rotation %s: %w", rotationID, ErrNotFound)
		}
		return nil, err
	}
	var r RotationRecord
	if err := storage.UnmarshalRecord(env, &r); err != nil {
		return nil, fmt.Errorf("decoding rotation %s: %w", rotationID, err)
	}
	return &r, nil
}

// ListRotations returns all rotation records for an organisation.
func (m *Manager) ListRotations(orgID string) ([]*RotationRecord, error) {
	ids, err := m.repo.List(orgID, recordTypeRotation)
	if err != nil {
		return nil, err
	}
	rotations := make([]*RotationRecord, 0, len(ids))
	for _, id := range ids {
		r, err := m.loadRotation(orgID, id)
		if err != nil {
			return nil, err
		}
		rotations = append(rotations, r)
	}
	return rotations, nil
}
