package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main agentfabric configuration
type Config struct {
	// Agent identity on the central message fabric
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Control plane (central message server) connection
	ControlPlane ControlPlaneConfig `json:"control_plane" mapstructure:"control_plane"`

	// Orchestrator behavior
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Storage backend
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Telemetry read API server
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Event ingress server (control plane -> agent push)
	Ingress IngressConfig `json:"ingress" mapstructure:"ingress"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Model provider profiles
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig identifies this agent on the fabric
type AgentConfig struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
}

// ControlPlaneConfig holds central server connection settings
type ControlPlaneConfig struct {
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	TimeoutSecs  int    `json:"timeout_secs" mapstructure:"timeout_secs"`
}

// OrchestratorConfig tunes the reasoning state machine
type OrchestratorConfig struct {
	// MaxSteps bounds the action loop; the run timeout is the outer bound.
	MaxSteps      int      `json:"max_steps" mapstructure:"max_steps"`
	RunTimeoutMin int      `json:"run_timeout_min" mapstructure:"run_timeout_min"`
	BypassRooms   []string `json:"bypass_rooms" mapstructure:"bypass_rooms"`     // room kinds that skip the gate
	BypassSources []string `json:"bypass_sources" mapstructure:"bypass_sources"` // source tags that skip the gate
}

// RunTimeout returns the configured run timeout as a duration
func (o OrchestratorConfig) RunTimeout() time.Duration {
	if o.RunTimeoutMin <= 0 {
		return time.Hour
	}
	return time.Duration(o.RunTimeoutMin) * time.Minute
}

// StoreConfig selects and configures the storage backend
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path   string `json:"path" mapstructure:"path"`
}

// TelemetryConfig holds the run telemetry HTTP server settings
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	CacheTTLSecs int    `json:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// CacheTTL returns the list-runs cache TTL as a duration
func (t TelemetryConfig) CacheTTL() time.Duration {
	if t.CacheTTLSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.CacheTTLSecs) * time.Second
}

// IngressConfig holds the fabric event ingress server settings. The
// control plane pushes message events here; the shared secret from the
// control plane section authenticates them.
type IngressConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// ModelConfig holds model provider configuration
type ModelConfig struct {
	Profiles []ModelProfile `json:"profiles" mapstructure:"profiles"`
	// SmallModel serves the should-respond gate
	SmallModel string `json:"small_model" mapstructure:"small_model"`
	// LargeModel serves step decisions and the final summary synthesis
	LargeModel string `json:"large_model" mapstructure:"large_model"`
}

// ModelProfile represents a model provider credential
type ModelProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name: "fabric-agent",
		},
		ControlPlane: ControlPlaneConfig{
			BaseURL:     "http://localhost:3000",
			TimeoutSecs: 10,
		},
		Orchestrator: OrchestratorConfig{
			MaxSteps:      12,
			RunTimeoutMin: 60,
			BypassRooms:   []string{"dm", "voice_dm"},
			BypassSources: []string{"client_chat"},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         3939,
			CacheTTLSecs: 15,
		},
		Ingress: IngressConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    3940,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Model: ModelConfig{
			SmallModel: "gpt-4o-mini",
			LargeModel: "gpt-4o",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}

	if c.ControlPlane.BaseURL == "" {
		return fmt.Errorf("control plane base_url is required")
	}

	if c.Orchestrator.MaxSteps <= 0 {
		return fmt.Errorf("orchestrator max_steps must be positive")
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "memory" {
		return fmt.Errorf("invalid store driver %s (must be: sqlite, memory)", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" && c.DataDir == "" {
		return fmt.Errorf("sqlite store requires store.path or data_dir")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
			return fmt.Errorf("invalid telemetry port %d", c.Telemetry.Port)
		}
	}

	if c.Ingress.Enabled {
		if c.Ingress.Port <= 0 || c.Ingress.Port > 65535 {
			return fmt.Errorf("invalid ingress port %d", c.Ingress.Port)
		}
	}

	if len(c.Model.Profiles) == 0 {
		return fmt.Errorf("no model credentials configured: at least one model profile is required")
	}
	for i, profile := range c.Model.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("model profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("model profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("model profile %s: api_key is required", profile.ID)
		}
	}

	return nil
}
