package util

import (
	"bytes"
	"testing"
)

func TestSealOpenAESGCM(t *testing.T) {
	key, err := NewAESKey()
	if err != nil {
		t.Fatalf("NewAESKey failed: %v", err)
	}
	plainText := []byte("private key material")
	aad := []byte("org-1:cert-1")

	cipherText, nonce, tag, err := SealAESGCM(plainText, key, aad)
	if err != nil {
		t.Fatalf("SealAESGCM failed: %v", err)
	}
	if len(nonce) != GCMNonceLen {
		t.Errorf("nonce length = %d, want %d", len(nonce), GCMNonceLen)
	}
	if len(tag) != GCMTagSize {
		t.Errorf("tag length = %d, want %d", len(tag), GCMTagSize)
	}

	decrypted, err := OpenAESGCM(cipherText, nonce, tag, key, aad)
	if err != nil {
		t.Fatalf("OpenAESGCM failed: %v", err)
	}
	if !bytes.Equal(plainText, decrypted) {
		t.Error("decrypted text does not match plaintext")
	}
}

func TestOpenAESGCMTamperedTag(t *testing.T) {
	key, _ := NewAESKey()
	cipherText, nonce, tag, err := SealAESGCM([]byte("secret"), key, nil)
	if err != nil {
		t.Fatalf("SealAESGCM failed: %v", err)
	}
	tag[0] ^= 0xff
	if _, err := OpenAESGCM(cipherText, nonce, tag, key, nil); err == nil {
		t.Fatal("expected error for tampered tag")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not wiped", i)
		}
	}
}

func TestNormalize(t *testing.T) {
	// Decomposed e + combining acute must normalize to the composed form.
	if Normalize("é") != "é" {
		t.Error("NFC normalization failed")
	}
}
