// Package mcpconfig loads a fleet's ServerSpecs and coordinator tuning from
// YAML, following the `mcp-servers:` mapping convention the example host
// CLIs use for MCP server configuration (spec §6 "construct MCP manager
// with ServerSpecs").
package mcpconfig

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pelagus-ai/agentrt/mcp"
	"github.com/pelagus-ai/agentrt/mcp/coordinator"
)

// ServerEntry is one server's YAML configuration. Transport selects which
// fields apply, mirroring mcp.ServerSpec's variant shape.
type ServerEntry struct {
	Transport string `yaml:"transport"`

	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`

	URL string `yaml:"url,omitempty"`

	RedirectScheme string   `yaml:"redirect_scheme,omitempty"`
	ClientID       string   `yaml:"client_id,omitempty"`
	ClientSecret   string   `yaml:"client_secret,omitempty"`
	AuthURL        string   `yaml:"auth_url,omitempty"`
	TokenURL       string   `yaml:"token_url,omitempty"`
	Scopes         []string `yaml:"scopes,omitempty"`

	InitTimeoutSeconds int `yaml:"init_timeout_seconds,omitempty"`
}

// ReconnectEntry configures the coordinator's ReconnectPolicy.
type ReconnectEntry struct {
	Kind        string `yaml:"kind"` // none | immediate | exponential_backoff
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	BaseDelay   string `yaml:"base_delay,omitempty"` // e.g. "500ms"
}

// HealthCheckEntry configures the coordinator's optional health-check loop.
type HealthCheckEntry struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval,omitempty"`
}

// Config is the top-level document this package decodes.
type Config struct {
	MCPServers  map[string]ServerEntry `yaml:"mcp-servers"`
	Reconnect   ReconnectEntry         `yaml:"reconnect"`
	HealthCheck HealthCheckEntry       `yaml:"health_check"`
}

// Load decodes a Config from r.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("mcpconfig: decode: %w", err)
	}
	return cfg, nil
}

// LoadFile opens path and decodes a Config from it.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("mcpconfig: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// ServerSpecs converts every configured server into an mcp.ServerSpec,
// keyed by the YAML mapping key as the ServerSpec's ID.
func (c Config) ServerSpecs() ([]mcp.ServerSpec, error) {
	specs := make([]mcp.ServerSpec, 0, len(c.MCPServers))
	for id, entry := range c.MCPServers {
		spec, err := entry.toServerSpec(id)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e ServerEntry) toServerSpec(id string) (mcp.ServerSpec, error) {
	spec := mcp.ServerSpec{
		ID:             id,
		Command:        e.Command,
		Args:           e.Args,
		Env:            e.Env,
		Dir:            e.Dir,
		URL:            e.URL,
		RedirectScheme: e.RedirectScheme,
		ClientID:       e.ClientID,
		ClientSecret:   e.ClientSecret,
		AuthURL:        e.AuthURL,
		TokenURL:       e.TokenURL,
		Scopes:         e.Scopes,
		InitTimeout:    e.InitTimeoutSeconds,
	}
	switch e.Transport {
	case "", "stdio":
		spec.Kind = mcp.TransportStdio
	case "http":
		spec.Kind = mcp.TransportHTTP
	case "oauth":
		spec.Kind = mcp.TransportOAuth
	default:
		return mcp.ServerSpec{}, fmt.Errorf("mcpconfig: server %q has unknown transport %q", id, e.Transport)
	}
	return spec, nil
}

// ReconnectPolicy parses the Reconnect entry into a coordinator.ReconnectPolicy.
func (c Config) ReconnectPolicy() (coordinator.ReconnectPolicy, error) {
	var kind coordinator.ReconnectKind
	switch c.Reconnect.Kind {
	case "", "none":
		kind = coordinator.ReconnectNone
	case "immediate":
		kind = coordinator.ReconnectImmediate
	case "exponential_backoff":
		kind = coordinator.ReconnectExponentialBackoff
	default:
		return coordinator.ReconnectPolicy{}, fmt.Errorf("mcpconfig: unknown reconnect kind %q", c.Reconnect.Kind)
	}
	base, err := parseDuration(c.Reconnect.BaseDelay, 0)
	if err != nil {
		return coordinator.ReconnectPolicy{}, fmt.Errorf("mcpconfig: reconnect.base_delay: %w", err)
	}
	return coordinator.ReconnectPolicy{
		Kind:        kind,
		MaxAttempts: c.Reconnect.MaxAttempts,
		BaseDelay:   base,
	}, nil
}

// HealthCheckInterval returns the configured interval and whether health
// checks are enabled at all.
func (c Config) HealthCheckInterval() (time.Duration, bool, error) {
	if !c.HealthCheck.Enabled {
		return 0, false, nil
	}
	d, err := parseDuration(c.HealthCheck.Interval, 30*time.Second)
	if err != nil {
		return 0, false, fmt.Errorf("mcpconfig: health_check.interval: %w", err)
	}
	return d, true, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
