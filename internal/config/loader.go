package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so API keys can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.APIKey = expandEnvVars(cfg.APIKey)
}

// Load reads the config file, applies defaults and environment overrides,
// and returns a merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets TALKWIRE_* environment variables override file
// values, so the CLI runs without a config file at all.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TALKWIRE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TALKWIRE_SOCKET_URL"); v != "" {
		cfg.SocketURL = v
	}
	if v := os.Getenv("TALKWIRE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TALKWIRE_TENANT_ID"); v != "" {
		cfg.TenantID = v
	}
	if v := os.Getenv("TALKWIRE_SITE_ID"); v != "" {
		cfg.SiteID = v
	}
	if v := os.Getenv("TALKWIRE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("TALKWIRE_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("TALKWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TALKWIRE_DEDUP_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dedup.WindowSeconds = n
		}
	}
}
