// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the email routing engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Routes  RoutesConfig  `yaml:"routes"`
	Slack   SlackConfig   `yaml:"slack"`
	SES     SESConfig     `yaml:"ses"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the inbound SMTP listener configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// RoutesConfig locates the routing table: an inline JSON object, or a file
// holding one. Inline JSON wins when both are set.
type RoutesConfig struct {
	JSON string `yaml:"json"`
	File string `yaml:"file"`
}

// SlackConfig holds the chat platform credentials and defaults.
type SlackConfig struct {
	Token           string `yaml:"token"`
	CatchAllChannel string `yaml:"catch_all_channel"`
	APIBaseURL      string `yaml:"api_base_url"`
}

// SESConfig holds the forward relay credentials.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TLSConfig holds TLS certificate file paths for STARTTLS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer, then
// overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// RoutesJSON returns the raw routing-table JSON. A missing or unreadable
// routes file is returned as an error so the caller can log it; the table
// parser itself treats any malformed content as an empty table.
func (c *Config) RoutesJSON() (string, error) {
	if c.Routes.JSON != "" {
		return c.Routes.JSON, nil
	}
	if c.Routes.File == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Routes.File)
	if err != nil {
		return "", fmt.Errorf("failed to read routes file: %w", err)
	}
	return string(data), nil
}

// SlackConfigured returns true if a chat API token is set.
func (c *Config) SlackConfigured() bool {
	return c.Slack.Token != ""
}

// SESConfigured returns true if the forward relay has a region.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Slack.CatchAllChannel = "inbound-email"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	if v := os.Getenv("ROUTES_JSON"); v != "" {
		c.Routes.JSON = v
	}
	if v := os.Getenv("ROUTES_FILE"); v != "" {
		c.Routes.File = v
	}

	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		c.Slack.Token = v
	}
	if v := os.Getenv("SLACK_CATCH_ALL_CHANNEL"); v != "" {
		c.Slack.CatchAllChannel = v
	}
	if v := os.Getenv("SLACK_API_BASE_URL"); v != "" {
		c.Slack.APIBaseURL = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
