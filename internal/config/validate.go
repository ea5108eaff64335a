package config

import (
	"fmt"
	"net/url"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.BaseURL == "" {
		issues = append(issues, ValidationIssue{"baseUrl", "required"})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, ValidationIssue{"baseUrl", "must be an absolute http(s) URL"})
	}

	if cfg.SocketURL != "" {
		if u, err := url.Parse(cfg.SocketURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{"socketUrl", "must be an absolute ws(s) URL"})
		}
	}

	if cfg.Mode != ModeVisitor && cfg.Mode != ModeAdmin {
		issues = append(issues, ValidationIssue{"mode", `must be "visitor" or "admin"`})
	}

	if cfg.Dedup.WindowSeconds < 0 {
		issues = append(issues, ValidationIssue{"dedup.windowSeconds", "must not be negative"})
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		issues = append(issues, ValidationIssue{"reconnect.maxAttempts", "must not be negative"})
	}
	if cfg.Reconnect.BaseDelayMs <= 0 {
		issues = append(issues, ValidationIssue{"reconnect.baseDelayMs", "must be positive"})
	}
	if cfg.Reconnect.MaxDelayMs < cfg.Reconnect.BaseDelayMs {
		issues = append(issues, ValidationIssue{"reconnect.maxDelayMs", "must be >= baseDelayMs"})
	}

	return issues
}
