// Package config defines and loads the widget client configuration.
package config

// Config is the root configuration for a Talkwire client instance.
type Config struct {
	// BaseURL is the gateway HTTP base, e.g. "https://gw.talkwire.io".
	BaseURL string `yaml:"baseUrl"`
	// SocketURL overrides the streaming endpoint the handshake returns.
	// Normally empty; useful against split deployments and in tests.
	SocketURL string `yaml:"socketUrl,omitempty"`
	// APIKey authenticates the handshake request.
	APIKey string `yaml:"apiKey,omitempty"`
	// TenantID is optional; the gateway resolves it from origin headers
	// when absent.
	TenantID string `yaml:"tenantId,omitempty"`
	SiteID   string `yaml:"siteId,omitempty"`
	// Mode is "visitor" or "admin". Admin clients consume presence events.
	Mode string `yaml:"mode,omitempty"`
	// StatePath is where local identity state lives. ":memory:" keeps it
	// in-process only.
	StatePath string `yaml:"statePath,omitempty"`

	Website   WebsiteConfig   `yaml:"website,omitempty"`
	Dedup     DedupConfig     `yaml:"dedup,omitempty"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// WebsiteConfig carries the embedding page context sent with the
// handshake and with every outbound message.
type WebsiteConfig struct {
	Domain   string `yaml:"domain,omitempty"`
	Origin   string `yaml:"origin,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Referrer string `yaml:"referrer,omitempty"`
}

// DedupConfig tunes the inbound duplicate-suppression window.
type DedupConfig struct {
	WindowSeconds int `yaml:"windowSeconds,omitempty"`
}

// ReconnectConfig bounds the automatic reconnection policy.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
	BaseDelayMs int `yaml:"baseDelayMs,omitempty"`
	MaxDelayMs  int `yaml:"maxDelayMs,omitempty"`
}

// LoggingConfig controls client logging.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // trace|debug|info|warn|error|silent
}

// Modes recognized in Config.Mode.
const (
	ModeVisitor = "visitor"
	ModeAdmin   = "admin"
)

// Defaults returns a Config with default values applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	applyDefaults(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeVisitor
	}
	if cfg.StatePath == "" {
		cfg.StatePath = ":memory:"
	}
	if cfg.Dedup.WindowSeconds == 0 {
		cfg.Dedup.WindowSeconds = 60
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 5
	}
	if cfg.Reconnect.BaseDelayMs == 0 {
		cfg.Reconnect.BaseDelayMs = 1000
	}
	if cfg.Reconnect.MaxDelayMs == 0 {
		cfg.Reconnect.MaxDelayMs = 30000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
