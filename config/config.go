package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port             string `mapstructure:"port"`
	CorsOrigin       string `mapstructure:"cors_origin"`
	APIToken         string `mapstructure:"api_token"`
	AuthUsername     string `mapstructure:"auth_username"`
	AuthPassword     string `mapstructure:"auth_password"`
	AuthPasswordHash string `mapstructure:"auth_password_hash"`
	AuthSecret       string `mapstructure:"auth_secret"`
}

// UpdateConfig holds the container update pipeline configuration.
type UpdateConfig struct {
	// Default criteria when a request does not specify one.
	VulnerabilityCriteria string `mapstructure:"vulnerability_criteria"`
	StopTimeoutSeconds    int    `mapstructure:"stop_timeout_seconds"`
	BatchTimeout          string `mapstructure:"batch_timeout"`
	// Container id of the dashboard itself; detected from the hostname
	// when empty. Self-updates are always refused.
	SelfContainerID string `mapstructure:"self_container_id"`
}

// ScanConfig holds the vulnerability scanner configuration.
type ScanConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Scanners  []string `mapstructure:"scanners"`
	TrivyPath string   `mapstructure:"trivy_path"`
	GrypePath string   `mapstructure:"grype_path"`
	Timeout   string   `mapstructure:"timeout"`
}

// StateConfig holds the on-disk state store configuration.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig holds apprise notification configuration.
type NotifyConfig struct {
	AppriseURLs []string `mapstructure:"apprise_urls"`
}

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Updates UpdateConfig  `mapstructure:"updates"`
	Scan    ScanConfig    `mapstructure:"scan"`
	State   StateConfig   `mapstructure:"state"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"log"`
}

// BatchTimeoutDuration parses the configured batch timeout, falling back
// to 30 minutes on invalid input.
func (c *Config) BatchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Updates.BatchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// ScanTimeoutDuration parses the configured scan timeout, falling back to
// 10 minutes on invalid input.
func (c *Config) ScanTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Scan.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// Init performs the initial configuration: setting defaults, specifying
// the config file, and reading it.
func Init() error {
	viper.SetDefault("server.port", "3131")
	viper.SetDefault("server.cors_origin", "")
	viper.SetDefault("server.api_token", "")
	viper.SetDefault("server.auth_username", "")
	viper.SetDefault("server.auth_password", "")
	viper.SetDefault("server.auth_password_hash", "")
	viper.SetDefault("server.auth_secret", "")
	viper.SetDefault("updates.vulnerability_criteria", "never")
	viper.SetDefault("updates.stop_timeout_seconds", 10)
	viper.SetDefault("updates.batch_timeout", "30m")
	viper.SetDefault("updates.self_container_id", "")
	viper.SetDefault("scan.enabled", false)
	viper.SetDefault("scan.scanners", []string{"trivy"})
	viper.SetDefault("scan.trivy_path", "trivy")
	viper.SetDefault("scan.grype_path", "grype")
	viper.SetDefault("scan.timeout", "10m")
	viper.SetDefault("state.path", "/app/data/dockhand.json")
	viper.SetDefault("notify.apprise_urls", []string{})
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetConfigName("config") // Looks for config.yaml
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/data")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	viper.SetEnvPrefix("dockhand")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &config, nil
}
