package keymat

import (
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"

	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/storage"
)

// Argon2id parameters for deriving master keys from an operator passphrase.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Ring holds the versioned master keys used for envelope encryption of
// certificate private keys. The active version encrypts new material; every
// version can still decrypt, so master-key rotation never requires
// re-issuing certificates.
type Ring struct {
	active string
	keys   map[string]*memguard.Enclave
}

// NewRing returns an empty Ring. At least one version must be added before
// the ring can encrypt.
func NewRing() *Ring {
	return &Ring{keys: make(map[string]*memguard.Enclave)}
}

// AddVersion registers raw 256-bit key material under the given version ID
// and marks it active. The raw slice is wiped.
func (r *Ring) AddVersion(keyID string, raw []byte) error {
	if len(raw) != util.AESKeySize {
		return fmt.Errorf("%w: master key %s has %d bytes, want %d", ErrEncryption, keyID, len(raw), util.AESKeySize)
	}
	if _, exists := r.keys[keyID]; exists {
		return fmt.Errorf("%w: master key version %s already registered", ErrEncryption, keyID)
	}
	r.keys[keyID] = memguard.NewEnclave(raw)
	r.active = keyID
	return nil
}

// AddDerivedVersion derives a key from passphrase and salt with Argon2id,
// bound to the version ID, and registers it as the active version.
func (r *Ring) AddDerivedVersion(keyID, passphrase string, salt []byte) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty master key passphrase", ErrEncryption)
	}
	if len(salt) < 16 {
		return fmt.Errorf("%w: master key salt must be at least 16 bytes", ErrEncryption)
	}
	bound := make([]byte, 0, len(salt)+len(keyID))
	bound = append(bound, salt...)
	bound = append(bound, keyID...)
	raw := argon2.IDKey([]byte(passphrase), bound, argonTime, argonMemory, argonThreads, util.AESKeySize)
	return r.AddVersion(keyID, raw)
}

// ActiveID returns the version ID new material is encrypted under.
func (r *Ring) ActiveID() string {
	return r.active
}

func (r *Ring) open(keyID string) (*memguard.LockedBuffer, error) {
	enclave, ok := r.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown master key version %s", ErrDecryption, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening master key %s: %v", ErrDecryption, keyID, err)
	}
	return buf, nil
}

func (r *Ring) encrypt(plaintext, aad []byte) (*EncryptedKey, error) {
	if r.active == "" {
		return nil, fmt.Errorf("%w: master key ring is empty", ErrEncryption)
	}
	buf, err := r.open(r.active)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	defer buf.Destroy()

	cipherText, nonce, tag, err := util.SealAESGCM(plaintext, buf.Bytes(), aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return &EncryptedKey{
		Ciphertext: cipherText,
		Nonce:      nonce,
		AuthTag:    tag,
		KeyID:      r.active,
	}, nil
}

func (r *Ring) seal(plaintext, aad []byte) (*storage.Envelope, error) {
	if r.active == "" {
		return nil, fmt.Errorf("%w: master key ring is empty", ErrEncryption)
	}
	buf, err := r.open(r.active)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	env.KeyID = r.active
	return env, nil
}

func (r *Ring) openSealed(env *storage.Envelope, aad []byte) ([]byte, error) {
	buf, err := r.open(env.KeyID)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	plaintext, err := storage.OpenRecord(buf.Bytes(), env, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

func (r *Ring) decrypt(enc *EncryptedKey, aad []byte) ([]byte, error) {
	buf, err := r.open(enc.KeyID)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	plaintext, err := util.OpenAESGCM(enc.Ciphertext, enc.Nonce, enc.AuthTag, buf.Bytes(), aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}
