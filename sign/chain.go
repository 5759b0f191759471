package sign

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/storage"
)

func (s *Signer) loadChain(orgID string, certType cert.Type) (*chainHead, error) {
	env, err := s.repo.Get(orgID, recordTypeChain, string(certType))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrOrgNotFound) {
			return &chainHead{OrgID: orgID, CertType: certType, Head: GenesisHash}, nil
		}
		return nil, err
	}
	var head chainHead
	if err := storage.UnmarshalRecord(env, &head); err != nil {
		return nil, fmt.Errorf("decoding chain head: %w", err)
	}
	head.version = env.Version
	return &head, nil
}

// Records returns the signing records of one (organisation, environment)
// chain in chain order.
func (s *Signer) Records(orgID string, certType cert.Type) ([]Record, error) {
	ids, err := s.repo.List(orgID, recordTypeInvoice)
	if err != nil {
		if errors.Is(err, storage.ErrOrgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(ids)
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		env, err := s.repo.Get(orgID, recordTypeInvoice, id)
		if err != nil {
			return nil, err
		}
		var r Record
		if err := storage.UnmarshalRecord(env, &r); err != nil {
			return nil, fmt.Errorf("decoding signing record %s: %w", id, err)
		}
		if r.CertType != certType {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// ChainReport is the result of a full chain walk.
type ChainReport struct {
	OrgID    string    `json:"org_id"`
	CertType cert.Type `json:"cert_type"`
	Length   int       `json:"length"`
	Intact   bool      `json:"intact"`
	BrokenAt string    `json:"broken_at,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// VerifyChain walks every signing record of an (organisation, environment)
// chain and checks its linkage: the first record must be rooted at the
// genesis hash and each record's previous hash must equal its predecessor's
// invoice hash.
func (s *Signer) VerifyChain(orgID string, certType cert.Type) (*ChainReport, error) {
	records, err := s.Records(orgID, certType)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{OrgID: orgID, CertType: certType, Length: len(records), Intact: true}
	previous := GenesisHash
	for _, r := range records {
		if r.PreviousInvoiceHash != previous {
			report.Intact = false
			report.BrokenAt = r.ID
			report.Detail = fmt.Sprintf(
				"record %s chains to %s, expected %s", r.ID, r.PreviousInvoiceHash, previous)
			return report, nil
		}
		previous = r.InvoiceHash
	}
	return report, nil
}
