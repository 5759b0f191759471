package qr

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() Fields {
	return Fields{
		SellerName:   "Test Company Ltd",
		TaxNumber:    "300000000000003",
		Timestamp:    "2026-04-01T12:00:00Z",
		InvoiceTotal: "1150.00",
		TaxTotal:     "150.00",
		InvoiceHash:  "aGFzaA==",
		Signature:    "c2lnbmF0dXJl",
		PublicKey:    "cHVibGljLWtleQ==",
		Algorithm:    "ECDSA-SHA256",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := testFields()
	payload, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, &in, out)
}

func TestEncodeMultiByteSellerName(t *testing.T) {
	in := testFields()
	in.SellerName = "شركة الاختبار المحدودة"

	payload, err := Encode(in)
	require.NoError(t, err)

	// The length byte counts UTF-8 bytes; decoding must recover the exact
	// original string.
	out, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, in.SellerName, out.SellerName)

	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, TagSellerName, raw[0])
	assert.Equal(t, len([]byte(in.SellerName)), int(raw[1]))
}

func TestEncodeValueTooLong(t *testing.T) {
	in := testFields()
	in.PublicKey = string(make([]byte, MaxValueLength+1))
	_, err := Encode(in)
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not base64", "%%%"},
		{"truncated value", base64.StdEncoding.EncodeToString([]byte{1, 10, 'a'})},
		{"truncated header", base64.StdEncoding.EncodeToString([]byte{1, 1, 'a', 2})},
		{"unknown tag", base64.StdEncoding.EncodeToString([]byte{42, 1, 'a'})},
		{"duplicate tag", base64.StdEncoding.EncodeToString([]byte{1, 1, 'a', 1, 1, 'b'})},
		{"missing fields", base64.StdEncoding.EncodeToString([]byte{1, 1, 'a'})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
