// Package config handles configuration loading from TOML files and environment
// variables for the core agent runtime.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                     `toml:"default_provider"`
	Providers       map[string]ProviderConfig  `toml:"providers"`
	Approval        ApprovalConfig             `toml:"approval"`
	Sandbox         SandboxConfig              `toml:"sandbox"`
	MCPServers      map[string]MCPServerConfig `toml:"mcp_servers"`
	Notifier        []string                   `toml:"notifier"`
}

// ProviderConfig holds model-provider settings. WireForm selects which of the
// two SSE adapters the model client uses for this provider.
type ProviderConfig struct {
	Endpoint                 string  `toml:"endpoint"`
	Model                    string  `toml:"model"`
	WireForm                 string  `toml:"wire_form"` // "responses" | "chat"
	Temperature              float64 `toml:"temperature"`
	RequestMaxRetries        int     `toml:"request_max_retries"`
	StreamMaxRetries         int     `toml:"stream_max_retries"`
	StreamIdleTimeoutSeconds int     `toml:"stream_idle_timeout_seconds"`
}

// ApprovalConfig holds the default approval policy name.
type ApprovalConfig struct {
	Policy string `toml:"policy"` // "unless-trusted" | "on-failure" | "on-request" | "never"
}

// SandboxConfig holds the default sandbox policy.
type SandboxConfig struct {
	Mode                string   `toml:"mode"` // "danger-full-access" | "read-only" | "workspace-write"
	WritableRoots       []string `toml:"writable_roots"`
	NetworkAccess       bool     `toml:"network_access"`
	ExcludeTmpdirEnvVar bool     `toml:"exclude_tmpdir_env_var"`
	ExcludeSlashTmp     bool     `toml:"exclude_slash_tmp"`
	LinuxHelperPath     string   `toml:"linux_helper_path"`
}

// MCPServerConfig describes one external tool-server to spawn/connect to.
type MCPServerConfig struct {
	Endpoint string `toml:"endpoint"`
}

// Load reads configuration from a TOML file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers:  make(map[string]ProviderConfig),
		MCPServers: make(map[string]MCPServerConfig),
	}

	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	switch c.Approval.Policy {
	case "", "unless-trusted", "on-failure", "on-request", "never":
	default:
		errs = append(errs, fmt.Errorf("approval.policy=%q is not a recognized policy", c.Approval.Policy))
	}

	switch c.Sandbox.Mode {
	case "", "danger-full-access", "read-only", "workspace-write":
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode=%q is not a recognized mode", c.Sandbox.Mode))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	switch cfg.WireForm {
	case "responses", "chat":
	default:
		errs = append(errs, fmt.Errorf("providers.%s.wire_form=%q must be \"responses\" or \"chat\"", name, cfg.WireForm))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"COREAGENT_DEFAULT_PROVIDER", func(v string) {
			if v != "" {
				cfg.DefaultProvider = v
			}
		}},
		{"COREAGENT_APPROVAL_POLICY", func(v string) {
			if v != "" {
				cfg.Approval.Policy = v
			}
		}},
		{"COREAGENT_SANDBOX_MODE", func(v string) {
			if v != "" {
				cfg.Sandbox.Mode = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// Home returns the core agent data/state directory (~/.config/coreagent).
func Home() (string, error) {
	if v := os.Getenv("COREAGENT_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "coreagent"), nil
}

// EnsureHome creates the home directory if it doesn't exist.
func EnsureHome() (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
