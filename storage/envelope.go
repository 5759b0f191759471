package storage

import (
	"encoding/json"
	"fmt"

	"github.com/hazimsaleh/fatoora/internal/util"
)

// Envelope schemes.
const (
	SchemeAESGCM    = "aes256gcm"
	SchemePlainJSON = "plain-json"
)

// Envelope is a stored record. Records carrying key material (certificates)
// are sealed with AES-256-GCM; ordinary records (rotation history, signing
// records, audit entries) are stored as plain JSON with an empty nonce.
// KeyID names the master-key version a sealed record was encrypted under.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	KeyID      string `json:"key_id,omitempty"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope using the given record key
// and AAD.
func SealRecord(recordKey, plaintext, aad []byte) (*Envelope, error) {
	cipherText, nonce, tag, err := util.SealAESGCM(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}
	// Tag rides at the end of the ciphertext field.
	return &Envelope{
		Ver:        1,
		Scheme:     SchemeAESGCM,
		Nonce:      nonce,
		Ciphertext: append(cipherText, tag...),
	}, nil
}

// OpenRecord decrypts a sealed Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if len(envelope.Ciphertext) < util.GCMTagSize {
		return nil, fmt.Errorf("ciphertext shorter than tag size")
	}
	split := len(envelope.Ciphertext) - util.GCMTagSize
	return util.OpenAESGCM(envelope.Ciphertext[:split], envelope.Nonce, envelope.Ciphertext[split:], recordKey, aad)
}

// MarshalRecord wraps v as a plain-json Envelope.
func MarshalRecord(v any) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	return &Envelope{Ver: 1, Scheme: SchemePlainJSON, Ciphertext: data}, nil
}

// UnmarshalRecord decodes a plain-json Envelope into v.
func UnmarshalRecord(envelope *Envelope, v any) error {
	if envelope.Scheme != SchemePlainJSON {
		return fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if err := json.Unmarshal(envelope.Ciphertext, v); err != nil {
		return fmt.Errorf("unmarshaling record: %w", err)
	}
	return nil
}
