package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
server:
  listen_addr: ":8080"
  shutdown_timeout: 5s
database:
  path: /tmp/fatoora.db
master_key:
  id: mk-1
  key: "` + validHexKey + `"
authority:
  mode: sandbox
rotation:
  sweep_interval: 1h
logging:
  level: info
  format: json
`

const validHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "mk-1", cfg.MasterKey.ID)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, time.Hour, cfg.SweepInterval())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  listen_addr: ":8080"
database:
  path: /tmp/fatoora.db
master_key:
  id: mk-1
  key: "`+validHexKey+`"
`))
	require.NoError(t, err)
	assert.Equal(t, AuthorityModeSandbox, cfg.Authority.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing listen addr",
			mutate:  func(s string) string { return strings.Replace(s, `listen_addr: ":8080"`, "", 1) },
			wantErr: "listen_addr",
		},
		{
			name:    "short master key",
			mutate:  func(s string) string { return strings.Replace(s, validHexKey, "abcd", 1) },
			wantErr: "master_key.key",
		},
		{
			name:    "unknown authority mode",
			mutate:  func(s string) string { return strings.Replace(s, "mode: sandbox", "mode: live", 1) },
			wantErr: "authority.mode",
		},
		{
			name:    "bad sweep interval",
			mutate:  func(s string) string { return strings.Replace(s, "sweep_interval: 1h", "sweep_interval: never", 1) },
			wantErr: "sweep_interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validConfig)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadHTTPModeRequiresBaseURL(t *testing.T) {
	body := strings.Replace(validConfig, "mode: sandbox", "mode: http", 1)
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("FATOORA_LISTEN_ADDR", ":9999")
	t.Setenv("FATOORA_AUTHORITY_TOTP_SECRET", "JBSWY3DPEHPK3PXP")

	cfg, err := LoadWithEnv(writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", cfg.Authority.TOTPSecret)
}

func TestPassphraseAndKeyMutuallyExclusive(t *testing.T) {
	body := strings.Replace(validConfig, "id: mk-1", "id: mk-1\n  passphrase: hunter2\n  salt: "+validHexKey, 1)
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
