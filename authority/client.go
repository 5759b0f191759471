package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a real authority endpoint over JSON/REST.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey attaches an API key to every submission.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// NewHTTPClient creates a client for the authority at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitBody struct {
	CSR string `json:"csr"`
}

type submitResponseBody struct {
	BinarySecurityToken string `json:"binarySecurityToken"`
	Secret              string `json:"secret"`
	RequestID           string `json:"requestID"`
	ValidFrom           string `json:"validFrom"`
	ValidUntil          string `json:"validUntil"`
}

func (c *HTTPClient) SubmitCSR(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	path := "/compliance"
	if req.Environment == EnvironmentProduction {
		path = "/production/csids"
	}

	payload, err := json.Marshal(submitBody{CSR: req.CSRPEM})
	if err != nil {
		return nil, fmt.Errorf("encoding CSR submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building CSR submission: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.OTP != "" {
		httpReq.Header.Set("OTP", req.OTP)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRequest, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequest, resp.StatusCode, body)
	}

	var out submitResponseBody
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrRequest, err)
	}
	if out.BinarySecurityToken == "" {
		return nil, fmt.Errorf("%w: response missing security token", ErrRequest)
	}

	return &SubmitResponse{
		CSID:       out.BinarySecurityToken,
		Secret:     out.Secret,
		RequestID:  out.RequestID,
		ValidFrom:  out.ValidFrom,
		ValidUntil: out.ValidUntil,
	}, nil
}
