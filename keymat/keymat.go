// Package keymat provides key material services for the compliance engine:
// ECDSA keypair generation, envelope encryption of private keys under a
// versioned master-key ring, and audited plaintext access. Decrypted key
// material only ever leaves this package inside a memguard LockedBuffer and
// only after a private_key_accessed audit entry has been durably written.
package keymat

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/storage"
)

var (
	// ErrKeyGeneration indicates the keypair could not be generated.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrEncryption indicates envelope encryption failed.
	ErrEncryption = errors.New("private key encryption failed")
	// ErrDecryption indicates tag verification or decryption failed. No
	// partial plaintext is ever returned alongside it.
	ErrDecryption = errors.New("private key decryption failed")
	// ErrAuditRequired indicates the mandatory audit append failed, so
	// plaintext access was refused.
	ErrAuditRequired = errors.New("audit append required before key access")
)

// CurveName identifies the fixed signing curve.
const CurveName = "P-256"

// KeyPair is a freshly generated signing keypair. PrivateDER is PKCS#8 and
// exists in plaintext only between generation and envelope encryption.
type KeyPair struct {
	PrivateDER []byte
	PublicPEM  string
	Curve      string
}

// EncryptedKey is an envelope-encrypted private key. KeyID records which
// master-key version sealed it.
type EncryptedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	AuthTag    []byte `json:"auth_tag"`
	KeyID      string `json:"key_id"`
}

// Service gates all key material operations.
type Service struct {
	ring *Ring
	log  *audit.Log
}

// NewService creates a Service over the given master-key ring and audit log.
func NewService(ring *Ring, log *audit.Log) *Service {
	return &Service{ring: ring, log: log}
}

// GenerateKeyPair produces a new ECDSA P-256 keypair.
func (s *Service) GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding private key: %v", ErrKeyGeneration, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		util.WipeBytes(privDER)
		return nil, fmt.Errorf("%w: encoding public key: %v", ErrKeyGeneration, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &KeyPair{
		PrivateDER: privDER,
		PublicPEM:  string(pubPEM),
		Curve:      CurveName,
	}, nil
}

// EncryptPrivateKey envelope-encrypts the keypair's private key under the
// active master-key version, binding it to aad. The plaintext in kp is
// wiped on success.
func (s *Service) EncryptPrivateKey(kp *KeyPair, aad []byte) (*EncryptedKey, error) {
	enc, err := s.ring.encrypt(kp.PrivateDER, aad)
	if err != nil {
		return nil, err
	}
	util.WipeBytes(kp.PrivateDER)
	kp.PrivateDER = nil
	return enc, nil
}

// DecryptPrivateKey verifies and decrypts an envelope-encrypted private key.
// The private_key_accessed audit entry is a hard contract: if it cannot be
// appended the plaintext is never produced. The caller must Destroy the
// returned buffer as soon as the signing or CSR operation completes.
func (s *Service) DecryptPrivateKey(enc *EncryptedKey, orgID, certificateID, requester, purpose string, aad []byte) (*memguard.LockedBuffer, error) {
	err := s.log.Append(audit.Entry{
		OrgID:         orgID,
		CertificateID: certificateID,
		Action:        audit.ActionPrivateKeyAccessed,
		PerformedBy:   requester,
		Success:       true,
		Details: audit.Details{
			KeyAccess: &audit.KeyAccessDetails{Purpose: purpose, MasterKeyID: enc.KeyID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditRequired, err)
	}

	plaintext, err := s.ring.decrypt(enc, aad)
	if err != nil {
		s.log.ReportFailure(audit.Entry{
			OrgID:         orgID,
			CertificateID: certificateID,
			Action:        audit.ActionPrivateKeyAccessed,
			PerformedBy:   requester,
		}, err)
		return nil, err
	}

	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(plaintext), nil
}

// SealRecord marshals v and seals it as a storage envelope under the active
// master-key version. Records that embed key material or authority secrets
// are persisted through this instead of as plain JSON.
func (s *Service) SealRecord(v any, aad []byte) (*storage.Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding record: %v", ErrEncryption, err)
	}
	defer util.WipeBytes(data)
	return s.ring.seal(data, aad)
}

// OpenRecord unseals an envelope into v using the master-key version
// recorded on it.
func (s *Service) OpenRecord(env *storage.Envelope, v any, aad []byte) error {
	data, err := s.ring.openSealed(env, aad)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding record: %v", ErrDecryption, err)
	}
	return nil
}

// RotateEncryptedKey re-encrypts key material from its recorded master-key
// version to the current active version. Used when the master key ring
// advances; the certificate's own keypair is unchanged.
func (s *Service) RotateEncryptedKey(enc *EncryptedKey, aad []byte) (*EncryptedKey, error) {
	if enc.KeyID == s.ring.ActiveID() {
		return enc, nil
	}
	plaintext, err := s.ring.decrypt(enc, aad)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(plaintext)
	return s.ring.encrypt(plaintext, aad)
}

// ParsePrivateKey decodes a PKCS#8 ECDSA private key from the bytes held in
// a locked buffer.
func ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	keyAny, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", ErrDecryption, err)
	}
	priv, ok := keyAny.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA private key", ErrDecryption)
	}
	return priv, nil
}

// ParsePublicKeyPEM decodes an ECDSA public key from its PEM encoding.
func ParsePublicKeyPEM(pubPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := keyAny.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA public key")
	}
	return pub, nil
}
