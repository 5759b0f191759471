package keymat

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/storage"
	"github.com/hazimsaleh/fatoora/storage/memory"
)

func newTestService(t *testing.T) (*Service, *audit.Log) {
	t.Helper()
	log := audit.New(memory.NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ring := NewRing()
	raw, err := util.NewAESKey()
	require.NoError(t, err)
	require.NoError(t, ring.AddVersion("mk-1", raw))
	return NewService(ring, log), log
}

func TestGenerateKeyPair(t *testing.T) {
	s, _ := newTestService(t)
	kp, err := s.GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, "P-256", kp.Curve)
	assert.NotEmpty(t, kp.PrivateDER)
	assert.Contains(t, kp.PublicPEM, "PUBLIC KEY")

	priv, err := ParsePrivateKey(kp.PrivateDER)
	require.NoError(t, err)
	pub, err := ParsePublicKeyPEM(kp.PublicPEM)
	require.NoError(t, err)
	assert.True(t, priv.PublicKey.Equal(pub))
}

func TestEncryptDecryptPrivateKey(t *testing.T) {
	s, log := newTestService(t)
	kp, err := s.GenerateKeyPair()
	require.NoError(t, err)
	original := util.CopyBytes(kp.PrivateDER)
	aad := []byte("org-1:cert-1")

	enc, err := s.EncryptPrivateKey(kp, aad)
	require.NoError(t, err)
	assert.Equal(t, "mk-1", enc.KeyID)
	assert.Nil(t, kp.PrivateDER, "plaintext must be wiped after encryption")

	buf, err := s.DecryptPrivateKey(enc, "org-1", "cert-1", "tester", "unit_test", aad)
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, original, buf.Bytes())

	// The hard contract: an audit entry precedes plaintext release.
	entries, err := log.List("org-1", audit.ActionPrivateKeyAccessed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tester", entries[0].PerformedBy)
	require.NotNil(t, entries[0].Details.KeyAccess)
	assert.Equal(t, "unit_test", entries[0].Details.KeyAccess.Purpose)
}

// failingAuditRepo refuses every write, so audit appends cannot succeed.
type failingAuditRepo struct {
	storage.Repository
}

func (failingAuditRepo) Put(orgID, recordType, recordID string, env *storage.Envelope) error {
	return errors.New("audit store unavailable")
}

func TestDecryptRefusedWhenAuditAppendFails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audit.New(&failingAuditRepo{Repository: memory.NewRepository()}, logger)
	ring := NewRing()
	raw, err := util.NewAESKey()
	require.NoError(t, err)
	require.NoError(t, ring.AddVersion("mk-1", raw))
	s := NewService(ring, log)

	kp, err := s.GenerateKeyPair()
	require.NoError(t, err)
	aad := []byte("org-1:cert-1")
	enc, err := s.EncryptPrivateKey(kp, aad)
	require.NoError(t, err)

	// The audit entry precedes plaintext release; if it cannot be written
	// the key stays sealed.
	buf, err := s.DecryptPrivateKey(enc, "org-1", "cert-1", "tester", "unit_test", aad)
	assert.ErrorIs(t, err, ErrAuditRequired)
	assert.Nil(t, buf)
}

func TestSealOpenRecord(t *testing.T) {
	s, _ := newTestService(t)
	type record struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	aad := []byte("cert-record:org-1:c1")

	env, err := s.SealRecord(record{ID: "c1", Secret: "top-secret"}, aad)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeAESGCM, env.Scheme)
	assert.Equal(t, "mk-1", env.KeyID)
	assert.NotContains(t, string(env.Ciphertext), "top-secret")

	var got record
	require.NoError(t, s.OpenRecord(env, &got, aad))
	assert.Equal(t, "top-secret", got.Secret)

	err = s.OpenRecord(env, &got, []byte("cert-record:org-1:c2"))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptFailsClosedOnTamper(t *testing.T) {
	s, _ := newTestService(t)
	kp, _ := s.GenerateKeyPair()
	aad := []byte("org-1:cert-1")
	enc, err := s.EncryptPrivateKey(kp, aad)
	require.NoError(t, err)

	enc.AuthTag[0] ^= 0xff
	buf, err := s.DecryptPrivateKey(enc, "org-1", "cert-1", "tester", "unit_test", aad)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.Nil(t, buf)
}

func TestDecryptFailsOnWrongAAD(t *testing.T) {
	s, _ := newTestService(t)
	kp, _ := s.GenerateKeyPair()
	enc, err := s.EncryptPrivateKey(kp, []byte("org-1:cert-1"))
	require.NoError(t, err)

	_, err = s.DecryptPrivateKey(enc, "org-1", "cert-2", "tester", "unit_test", []byte("org-1:cert-2"))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptUnknownMasterKeyVersion(t *testing.T) {
	s, _ := newTestService(t)
	kp, _ := s.GenerateKeyPair()
	enc, err := s.EncryptPrivateKey(kp, nil)
	require.NoError(t, err)

	enc.KeyID = "mk-missing"
	_, err = s.DecryptPrivateKey(enc, "org-1", "cert-1", "tester", "unit_test", nil)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestRotateEncryptedKey(t *testing.T) {
	s, _ := newTestService(t)
	kp, _ := s.GenerateKeyPair()
	original := util.CopyBytes(kp.PrivateDER)
	aad := []byte("org-1:cert-1")
	enc, err := s.EncryptPrivateKey(kp, aad)
	require.NoError(t, err)

	raw, _ := util.NewAESKey()
	require.NoError(t, s.ring.AddVersion("mk-2", raw))

	rotated, err := s.RotateEncryptedKey(enc, aad)
	require.NoError(t, err)
	assert.Equal(t, "mk-2", rotated.KeyID)

	buf, err := s.DecryptPrivateKey(rotated, "org-1", "cert-1", "tester", "unit_test", aad)
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, original, buf.Bytes())
}

func TestRingDerivedVersion(t *testing.T) {
	ring := NewRing()
	salt, err := util.RandomBytes(16)
	require.NoError(t, err)
	require.NoError(t, ring.AddDerivedVersion("mk-1", "correct horse battery staple", salt))
	assert.Equal(t, "mk-1", ring.ActiveID())

	err = ring.AddDerivedVersion("mk-2", "", salt)
	assert.ErrorIs(t, err, ErrEncryption)
}
