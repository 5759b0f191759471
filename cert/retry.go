package cert

import (
	"context"
	"time"

	"github.com/hazimsaleh/fatoora/authority"
)

// submitWithRetry submits a CSR with bounded exponential backoff. Authority
// errors are transient-friendly; crypto and validation errors never reach
// this path.
func (m *Manager) submitWithRetry(ctx context.Context, req authority.SubmitRequest) (*authority.SubmitResponse, error) {
	var lastErr error
	delay := m.retryBase
	for attempt := 1; attempt <= m.retryAttempts; attempt++ {
		resp, err := m.authority.SubmitCSR(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		m.logger.Warn("authority submission failed",
			"org_id", req.OrgID, "attempt", attempt, "error", err)

		if attempt == m.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}
