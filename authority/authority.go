// Package authority defines the tax-authority collaborator that issues
// compliance and production CSIDs in exchange for signing requests.
package authority

import (
	"context"
	"errors"
)

// ErrRequest indicates the authority rejected the request or was
// unreachable. The lifecycle manager retries it with bounded backoff.
var ErrRequest = errors.New("authority request failed")

// Environment selects which authority endpoint a request targets.
type Environment string

const (
	EnvironmentCompliance Environment = "compliance"
	EnvironmentProduction Environment = "production"
)

// SubmitRequest carries a signing request to the authority. OTP is the
// one-time password issued through the authority portal during onboarding;
// it is required for compliance CSIDs and absent for production ones.
type SubmitRequest struct {
	OrgID       string
	Environment Environment
	CSRPEM      string
	OTP         string
}

// SubmitResponse is the authority's approval payload. CSID is the issued
// security token; Secret authenticates subsequent reporting calls.
type SubmitResponse struct {
	CSID       string
	Secret     string
	RequestID  string
	ValidFrom  string
	ValidUntil string
}

// Client is the authority API consumed by the certificate lifecycle
// manager. Implementations must be safe for concurrent use.
type Client interface {
	SubmitCSR(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
}
