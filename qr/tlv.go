// Package qr implements the compact TLV encoding of signed-invoice fields
// carried in the invoice QR code. Nine fields are encoded in fixed tag
// order, each as one tag byte, one length byte and the raw UTF-8 value
// bytes; the concatenated buffer is Base64-encoded.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Field tags, in their fixed encoding order.
const (
	TagSellerName   byte = 1
	TagTaxNumber    byte = 2
	TagTimestamp    byte = 3
	TagInvoiceTotal byte = 4
	TagTaxTotal     byte = 5
	TagInvoiceHash  byte = 6
	TagSignature    byte = 7
	TagPublicKey    byte = 8
	TagAlgorithm    byte = 9
)

// MaxValueLength is the largest value a single-byte length field can carry.
const MaxValueLength = 255

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("malformed TLV payload")

// Fields are the nine signed-invoice values carried in the QR payload.
type Fields struct {
	SellerName   string
	TaxNumber    string
	Timestamp    string
	InvoiceTotal string
	TaxTotal     string
	InvoiceHash  string
	Signature    string
	PublicKey    string
	Algorithm    string
}

func (f *Fields) ordered() []struct {
	tag   byte
	value string
} {
	return []struct {
		tag   byte
		value string
	}{
		{TagSellerName, f.SellerName},
		{TagTaxNumber, f.TaxNumber},
		{TagTimestamp, f.Timestamp},
		{TagInvoiceTotal, f.InvoiceTotal},
		{TagTaxTotal, f.TaxTotal},
		{TagInvoiceHash, f.InvoiceHash},
		{TagSignature, f.Signature},
		{TagPublicKey, f.PublicKey},
		{TagAlgorithm, f.Algorithm},
	}
}

// Encode renders the fields as a Base64 TLV payload. Lengths count UTF-8
// bytes, not characters, so multi-byte names survive the round trip.
func Encode(f Fields) (string, error) {
	var buf []byte
	for _, fv := range f.ordered() {
		value := []byte(fv.value)
		if len(value) > MaxValueLength {
			return "", fmt.Errorf("field tag %d value is %d bytes, max %d", fv.tag, len(value), MaxValueLength)
		}
		buf = append(buf, fv.tag, byte(len(value)))
		buf = append(buf, value...)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode parses a Base64 TLV payload back into its nine fields. All nine
// tags must be present exactly once.
func Decode(payload string) (*Fields, error) {
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	values := make(map[byte]string, 9)
	for i := 0; i < len(buf); {
		if i+2 > len(buf) {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformed, i)
		}
		tag, length := buf[i], int(buf[i+1])
		i += 2
		if i+length > len(buf) {
			return nil, fmt.Errorf("%w: truncated value for tag %d", ErrMalformed, tag)
		}
		if tag < TagSellerName || tag > TagAlgorithm {
			return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)
		}
		if _, dup := values[tag]; dup {
			return nil, fmt.Errorf("%w: duplicate tag %d", ErrMalformed, tag)
		}
		values[tag] = string(buf[i : i+length])
		i += length
	}
	if len(values) != 9 {
		return nil, fmt.Errorf("%w: got %d fields, want 9", ErrMalformed, len(values))
	}

	return &Fields{
		SellerName:   values[TagSellerName],
		TaxNumber:    values[TagTaxNumber],
		Timestamp:    values[TagTimestamp],
		InvoiceTotal: values[TagInvoiceTotal],
		TaxTotal:     values[TagTaxTotal],
		InvoiceHash:  values[TagInvoiceHash],
		Signature:    values[TagSignature],
		PublicKey:    values[TagPublicKey],
		Algorithm:    values[TagAlgorithm],
	}, nil
}
