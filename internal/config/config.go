package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pledgeline.yml.
type Config struct {
	Campaign struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
	} `yaml:"campaign"`
	Fees    FeeSchedule `yaml:"fees"`
	Gateway struct {
		BaseURL             string `yaml:"base_url"`
		APIKey              string `yaml:"api_key"`
		APISecret           string `yaml:"api_secret"`
		LiveTimeoutSeconds  int    `yaml:"live_timeout_seconds"`
		BatchTimeoutSeconds int    `yaml:"batch_timeout_seconds"`
		Dummy               bool   `yaml:"dummy"`
	} `yaml:"gateway"`
	Execution struct {
		// PreExecutionDelayHours is the minimum gap between the
		// pre-execution notice and the actual charge.
		PreExecutionDelayHours int  `yaml:"pre_execution_delay_hours"`
		TestMode               bool `yaml:"test_mode"`
	} `yaml:"execution"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// FeeSchedule is the versioned charge-splitting schedule. Pledges record
// the version in force when they were created; execution refuses to run
// against a different version. The percentage is carried in basis points
// so the schedule never touches floating point.
type FeeSchedule struct {
	Version              int   `yaml:"version"`
	FixedFeeCents        int64 `yaml:"fixed_fee_cents"`
	PercentFeeBps        int64 `yaml:"percent_fee_bps"`
	MinContributionCents int64 `yaml:"min_contribution_cents"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// PreExecutionDelay returns the configured delay as a duration.
func (c *Config) PreExecutionDelay() time.Duration {
	return time.Duration(c.Execution.PreExecutionDelayHours) * time.Hour
}

// LiveTimeout is the gateway timeout for interactive calls.
func (c *Config) LiveTimeout() time.Duration {
	if c.Gateway.LiveTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Gateway.LiveTimeoutSeconds) * time.Second
}

// BatchTimeout is the gateway timeout for batch execution calls.
func (c *Config) BatchTimeout() time.Duration {
	if c.Gateway.BatchTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Gateway.BatchTimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Campaign.ID == "" {
		return fmt.Errorf("config.campaign.id is required")
	}
	if c.Fees.Version <= 0 {
		return fmt.Errorf("config.fees.version must be positive")
	}
	if c.Fees.FixedFeeCents < 0 {
		return fmt.Errorf("config.fees.fixed_fee_cents must not be negative")
	}
	if c.Fees.PercentFeeBps < 0 || c.Fees.PercentFeeBps >= 10000 {
		return fmt.Errorf("config.fees.percent_fee_bps must be in [0,10000)")
	}
	if c.Fees.MinContributionCents < 1 {
		return fmt.Errorf("config.fees.min_contribution_cents must be at least 1")
	}
	if !c.Gateway.Dummy && c.Gateway.BaseURL == "" {
		return fmt.Errorf("config.gateway.base_url is required unless gateway.dummy is set")
	}
	if c.Execution.PreExecutionDelayHours < 0 {
		return fmt.Errorf("config.execution.pre_execution_delay_hours must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pledgeline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a campaign. The reference
// fee schedule is $0.20 fixed plus 9%, minimum contribution one cent.
func Default(campaignID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, campaignID)), &cfg)
	cfg.Campaign.ID = campaignID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(campaignID string) string {
	return fmt.Sprintf(defaultTemplate, campaignID)
}

const defaultTemplate = `campaign:
  id: %s
  title: Default campaign

fees:
  version: 1
  fixed_fee_cents: 20
  percent_fee_bps: 900
  min_contribution_cents: 1

gateway:
  base_url: ""
  api_key: ""
  api_secret: ""
  live_timeout_seconds: 20
  batch_timeout_seconds: 60
  dummy: true

execution:
  pre_execution_delay_hours: 24
  test_mode: false
`
