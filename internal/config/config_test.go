package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ModeVisitor, cfg.Mode)
	assert.Equal(t, ":memory:", cfg.StatePath)
	assert.Equal(t, 60, cfg.Dedup.WindowSeconds)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 1000, cfg.Reconnect.BaseDelayMs)
	assert.Equal(t, 30000, cfg.Reconnect.MaxDelayMs)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
baseUrl: https://gw.example.com
apiKey: k-123
tenantId: acme
siteId: site-1
mode: admin
website:
  domain: example.com
  origin: https://example.com
dedup:
  windowSeconds: 15
reconnect:
  maxAttempts: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gw.example.com", cfg.BaseURL)
	assert.Equal(t, "k-123", cfg.APIKey)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "site-1", cfg.SiteID)
	assert.Equal(t, ModeAdmin, cfg.Mode)
	assert.Equal(t, "example.com", cfg.Website.Domain)
	assert.Equal(t, 15, cfg.Dedup.WindowSeconds)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	// Defaults still fill untouched fields.
	assert.Equal(t, 1000, cfg.Reconnect.BaseDelayMs)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "baseUrl: [unclosed")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALKWIRE_BASE_URL", "https://env.example.com")
	t.Setenv("TALKWIRE_TENANT_ID", "env-tenant")
	t.Setenv("TALKWIRE_DEDUP_WINDOW_SECONDS", "7")

	path := writeConfig(t, "baseUrl: https://file.example.com\ntenantId: file-tenant\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, "env-tenant", cfg.TenantID)
	assert.Equal(t, 7, cfg.Dedup.WindowSeconds)
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cr3t")

	path := writeConfig(t, "baseUrl: https://gw.example.com\napiKey: ${SECRET_KEY}\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.APIKey)
}

func TestAPIKeyUnsetVarLeftAlone(t *testing.T) {
	path := writeConfig(t, "baseUrl: https://gw.example.com\napiKey: ${DEFINITELY_NOT_SET_123}\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "${DEFINITELY_NOT_SET_123}", cfg.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantLen int
	}{
		{"valid defaults", func(c *Config) {}, 0},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, 1},
		{"relative base url", func(c *Config) { c.BaseURL = "/gateway" }, 1},
		{"bad mode", func(c *Config) { c.Mode = "superuser" }, 1},
		{"negative window", func(c *Config) { c.Dedup.WindowSeconds = -1 }, 1},
		{"delay cap below base", func(c *Config) { c.Reconnect.MaxDelayMs = 10 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.BaseURL = "https://gw.example.com"
			tt.mutate(&cfg)
			assert.Len(t, Validate(&cfg), tt.wantLen)
		})
	}
}
