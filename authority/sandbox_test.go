package authority

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxSubmitCSR(t *testing.T) {
	s := NewSandbox()
	resp, err := s.SubmitCSR(context.Background(), SubmitRequest{
		OrgID:       "org-1",
		Environment: EnvironmentCompliance,
		CSRPEM:      "-----BEGIN CERTIFICATE REQUEST-----",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.CSID, "CSID-compliance-")
	assert.NotEmpty(t, resp.Secret)
	assert.NotEmpty(t, resp.RequestID)

	from, err := time.Parse(time.RFC3339, resp.ValidFrom)
	require.NoError(t, err)
	until, err := time.Parse(time.RFC3339, resp.ValidUntil)
	require.NoError(t, err)
	assert.True(t, until.After(from))
}

func TestSandboxRejectsEmptyCSR(t *testing.T) {
	s := NewSandbox()
	_, err := s.SubmitCSR(context.Background(), SubmitRequest{Environment: EnvironmentCompliance})
	assert.ErrorIs(t, err, ErrRequest)
}

func TestSandboxTOTPGate(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	s := NewSandbox(WithTOTPSecret(secret))

	// Missing/invalid OTP is rejected on the compliance path.
	_, err = s.SubmitCSR(context.Background(), SubmitRequest{
		Environment: EnvironmentCompliance,
		CSRPEM:      "csr",
		OTP:         "000000",
	})
	assert.ErrorIs(t, err, ErrRequest)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, err := s.SubmitCSR(context.Background(), SubmitRequest{
		Environment: EnvironmentCompliance,
		CSRPEM:      "csr",
		OTP:         code,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CSID)

	// Production submissions do not require an OTP.
	_, err = s.SubmitCSR(context.Background(), SubmitRequest{
		Environment: EnvironmentProduction,
		CSRPEM:      "csr",
	})
	assert.NoError(t, err)
}
