// Package config holds operator-level configuration: listen address,
// data directory, model defaults, tool backend selection, and the
// scheduler. Set via env vars (PRIG_*) or promptrig.config.yaml. Runtime
// settings that end users may change per installation (iteration
// ceiling, worker count, token limits) live in the settings store, not
// here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the PRIG_ prefix
// (e.g. "listen_addr" → PRIG_LISTEN_ADDR) and to a YAML field in
// promptrig.config.yaml.
const (
	KeyDataDir       = "data_dir"
	KeyListenAddr    = "listen_addr"
	KeyAPIToken      = "api_token"
	KeyDefaultModel  = "default_model"
	KeyTemperature   = "temperature"
	KeyIntentModel   = "intent_model"
	KeyMCPEndpoint   = "mcp_endpoint"
	KeyMCPToken      = "mcp_token"
	KeyRateLimitRPS  = "rate_limit_rps"
	KeyRateBurst     = "rate_limit_burst"
	KeyOTelEnabled   = "otel_enabled"
	KeyBlockedTools  = "blocked_tools"
	KeyCronSpec      = "cron_spec"
	KeyCronText      = "cron_text"
	KeyCronSessionID = "cron_session_id"
)

const (
	DefaultListenAddr   = ":8080"
	DefaultModel        = "gpt-4o-mini"
	DefaultTemperature  = 0.7
	DefaultRateLimitRPS = 10
	DefaultRateBurst    = 20
)

// Config is the resolved operator configuration for one process.
type Config struct {
	DataDir      string  // base directory for all state (~/.promptrig)
	ListenAddr   string  // HTTP API bind address
	APIToken     string  // bearer token; empty disables auth (dev only)
	DefaultModel string  // completion model for new sessions
	Temperature  float64 // sampling temperature for conventional models
	IntentModel  string  // model for the intent classifier; empty disables the model layer
	MCPEndpoint  string  // remote tool server URL; empty = in-process registry
	MCPToken     string  // bearer token for the tool server
	RateLimitRPS float64 // API requests per second per client
	RateBurst    int
	OTelEnabled  bool
	BlockedTools []string // operator deny list fed to the policy engine

	// Scheduled submission: CronSpec fires CronText as a background
	// task against CronSessionID. Empty spec disables the scheduler.
	CronSpec      string
	CronText      string
	CronSessionID string
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "promptrig.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfInsecure logs when the API runs without authentication.
func (c *Config) WarnIfInsecure() {
	if c.APIToken == "" {
		log.Warn().Msg("PRIG_API_TOKEN is not set — the HTTP API accepts unauthenticated requests")
	}
}

func init() {
	viper.SetEnvPrefix("PRIG")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyDefaultModel, DefaultModel)
	viper.SetDefault(KeyTemperature, DefaultTemperature)
	viper.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
	viper.SetDefault(KeyRateBurst, DefaultRateBurst)
	viper.SetDefault(KeyCronSessionID, "scheduled")
}

// Load reads configuration from Viper (env vars merged over the config
// file and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		ListenAddr:    viper.GetString(KeyListenAddr),
		APIToken:      viper.GetString(KeyAPIToken),
		DefaultModel:  viper.GetString(KeyDefaultModel),
		Temperature:   viper.GetFloat64(KeyTemperature),
		IntentModel:   viper.GetString(KeyIntentModel),
		MCPEndpoint:   viper.GetString(KeyMCPEndpoint),
		MCPToken:      viper.GetString(KeyMCPToken),
		RateLimitRPS:  viper.GetFloat64(KeyRateLimitRPS),
		RateBurst:     viper.GetInt(KeyRateBurst),
		OTelEnabled:   viper.GetBool(KeyOTelEnabled),
		BlockedTools:  viper.GetStringSlice(KeyBlockedTools),
		CronSpec:      viper.GetString(KeyCronSpec),
		CronText:      viper.GetString(KeyCronText),
		CronSessionID: viper.GetString(KeyCronSessionID),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptrig"
	}
	return filepath.Join(home, ".promptrig")
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("default_model must not be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", c.Temperature)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive")
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive")
	}
	if c.CronSpec != "" && c.CronText == "" {
		return fmt.Errorf("cron_text must be set when cron_spec is set")
	}
	return nil
}
