package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFC normalization. Party names pass through this before
// canonicalization so visually identical strings hash identically.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
