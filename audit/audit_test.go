package audit

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazimsaleh/fatoora/storage/memory"
)

func newTestLog() *Log {
	return New(memory.NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAppendAndList(t *testing.T) {
	l := newTestLog()

	require.NoError(t, l.Append(Entry{
		OrgID:       "org-1",
		Action:      ActionKeyPairGenerated,
		PerformedBy: "system",
		Success:     true,
	}))
	require.NoError(t, l.Append(Entry{
		OrgID:         "org-1",
		CertificateID: "cert-1",
		Action:        ActionPrivateKeyAccessed,
		PerformedBy:   "signer",
		Success:       true,
		Details: Details{
			KeyAccess: &KeyAccessDetails{Purpose: "invoice_signing", MasterKeyID: "mk-1"},
		},
	}))

	entries, err := l.List("org-1", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	accessed, err := l.List("org-1", ActionPrivateKeyAccessed)
	require.NoError(t, err)
	require.Len(t, accessed, 1)
	assert.Equal(t, "cert-1", accessed[0].CertificateID)
	require.NotNil(t, accessed[0].Details.KeyAccess)
	assert.Equal(t, "invoice_signing", accessed[0].Details.KeyAccess.Purpose)
	assert.NotEmpty(t, accessed[0].ID)
	assert.NotEmpty(t, accessed[0].CreatedAt)
}

func TestListNewestFirst(t *testing.T) {
	l := newTestLog()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return ts }
		require.NoError(t, l.Append(Entry{
			OrgID:       "org-1",
			Action:      ActionInvoiceSigned,
			PerformedBy: "signer",
			Success:     true,
		}))
	}

	entries, err := l.List("org-1", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].CreatedAt > entries[1].CreatedAt)
	assert.True(t, entries[1].CreatedAt > entries[2].CreatedAt)
}

func TestListEmptyOrg(t *testing.T) {
	l := newTestLog()
	entries, err := l.List("org-none", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReportFailureRecordsError(t *testing.T) {
	l := newTestLog()
	l.ReportFailure(Entry{
		OrgID:       "org-1",
		Action:      ActionRotationFailed,
		PerformedBy: "scheduler",
	}, errors.New("authority unreachable"))

	entries, err := l.List("org-1", ActionRotationFailed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "authority unreachable", entries[0].ErrorMessage)
}
