package oci

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the runtime configuration of a Client.
type ClientConfig struct {
	// Protocol selects http or https per registry. Zero value is HTTPS.
	Protocol ClientProtocol

	// UserAgent is sent on every request. Defaults to "git-pkgs-oci/1.0".
	UserAgent string

	// HTTPClient overrides the transport. Defaults to a client with the
	// configured Timeout; connection pooling and TLS session reuse are
	// delegated to it.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil. Zero means no
	// timeout beyond context cancellation.
	Timeout time.Duration

	// Logger receives debug logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigSource provides a ClientConfig. Applications can implement this on
// their own configuration type and pass it to FromSource.
type ConfigSource interface {
	ClientConfig() ClientConfig
}

// Config is the file form of the client configuration. It can come from a
// YAML or JSON file (Load), from the environment (LoadFromEnv), or both;
// it implements ConfigSource, so it can be handed straight to FromSource.
type Config struct {
	// Protocol is "https" or "http".
	Protocol string `json:"protocol" yaml:"protocol"`

	// InsecureRegistries lists registry hosts contacted over plain HTTP
	// while everything else stays on HTTPS. Ignored when Protocol is
	// "http".
	InsecureRegistries []string `json:"insecure_registries" yaml:"insecure_registries"`

	// UserAgent is the User-Agent header value.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Timeout is a Go duration string (e.g. "60s"). Empty means none.
	Timeout string `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Protocol:  "https",
		UserAgent: "git-pkgs-oci/1.0",
	}
}

// Load reads a configuration file (YAML or JSON).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config (tried YAML and JSON): %w", err)
			}
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to a Config.
// Environment variables use the OCI_ prefix:
//   - OCI_PROTOCOL
//   - OCI_INSECURE_REGISTRIES (comma-separated)
//   - OCI_USER_AGENT
//   - OCI_TIMEOUT
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("OCI_PROTOCOL"); v != "" {
		c.Protocol = v
	}
	if v := os.Getenv("OCI_INSECURE_REGISTRIES"); v != "" {
		c.InsecureRegistries = strings.Split(v, ",")
	}
	if v := os.Getenv("OCI_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("OCI_TIMEOUT"); v != "" {
		c.Timeout = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Protocol) {
	case "https", "http":
		// OK
	default:
		return fmt.Errorf("invalid protocol %q (must be https or http)", c.Protocol)
	}

	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}

	return nil
}

// ClientConfig converts the file form into the runtime form. Config
// implements ConfigSource.
func (c *Config) ClientConfig() ClientConfig {
	out := ClientConfig{UserAgent: c.UserAgent}

	switch {
	case strings.EqualFold(c.Protocol, "http"):
		out.Protocol = ProtocolHTTP
	case len(c.InsecureRegistries) > 0:
		out.Protocol = ProtocolHTTPSExcept(c.InsecureRegistries...)
	default:
		out.Protocol = ProtocolHTTPS
	}

	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil {
			out.Timeout = d
		}
	}

	return out
}
