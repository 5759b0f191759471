package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/internal/uuid"
)

// Sandbox is an in-process authority for development and testing. It issues
// fake CSIDs with a one-year validity window. When a TOTP secret is
// configured, compliance submissions must carry a valid TOTP code as their
// one-time password, mimicking the portal onboarding flow.
type Sandbox struct {
	totpSecret string
	validity   time.Duration
	now        func() time.Time
}

var _ Client = (*Sandbox)(nil)

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithTOTPSecret requires compliance submissions to present a valid TOTP
// code for the given secret.
func WithTOTPSecret(secret string) SandboxOption {
	return func(s *Sandbox) {
		s.totpSecret = secret
	}
}

// WithValidity overrides the validity window of issued CSIDs.
func WithValidity(d time.Duration) SandboxOption {
	return func(s *Sandbox) {
		s.validity = d
	}
}

// WithClock overrides the sandbox clock, for tests.
func WithClock(now func() time.Time) SandboxOption {
	return func(s *Sandbox) {
		s.now = now
	}
}

// NewSandbox creates a sandbox authority.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		validity: 365 * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateTOTPSecret creates a TOTP secret suitable for WithTOTPSecret.
func GenerateTOTPSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "fatoora-sandbox",
		AccountName: "onboarding",
	})
	if err != nil {
		return "", fmt.Errorf("generating TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

func (s *Sandbox) SubmitCSR(_ context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.CSRPEM == "" {
		return nil, fmt.Errorf("%w: empty CSR", ErrRequest)
	}
	if s.totpSecret != "" && req.Environment == EnvironmentCompliance {
		if !totp.Validate(req.OTP, s.totpSecret) {
			return nil, fmt.Errorf("%w: invalid one-time password", ErrRequest)
		}
	}

	csid, err := util.RandomChars(12)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	secret, err := util.RandomBytes(24)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}

	now := s.now().UTC()
	return &SubmitResponse{
		CSID:       fmt.Sprintf("CSID-%s-%s", req.Environment, csid),
		Secret:     util.HexEncode(secret),
		RequestID:  uuid.New(),
		ValidFrom:  now.Format(time.RFC3339),
		ValidUntil: now.Add(s.validity).Format(time.RFC3339),
	}, nil
}
