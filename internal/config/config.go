// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	App     AppConfig     `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// ProbeConfig represents the identification probe configuration. One scan
// invocation runs entirely off the values captured here; two scans with
// different probe configs never interfere.
type ProbeConfig struct {
	BaudRate      int             `mapstructure:"baud_rate"`
	ReadTimeout   time.Duration   `mapstructure:"read_timeout"`
	SettleDelay   time.Duration   `mapstructure:"settle_delay"`
	ReadSize      int             `mapstructure:"read_size"`
	Commands      []string        `mapstructure:"commands"`
	MaxConcurrent int             `mapstructure:"max_concurrent"`
	USBEnrich     bool            `mapstructure:"usb_enrich"`
	Signature     SignatureConfig `mapstructure:"signature"`
}

// SignatureConfig holds the classifier's signature data. Tokens are
// case-insensitive substrings; ModelPattern is a regular expression for
// model-number fragments seen in truncated replies.
type SignatureConfig struct {
	Tokens       []string `mapstructure:"tokens"`
	ModelPattern string   `mapstructure:"model_pattern"`
}

// OutputConfig represents result document output configuration
type OutputConfig struct {
	File   string `mapstructure:"file"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults plus environment cover the CLI use
// case where no file exists.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mdt-discovery")
	}

	// Environment variable support
	v.SetEnvPrefix("MDT_DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Probe defaults match the MDT protocol: 115200 8N1, short read
	// timeout, identification commands with varying line terminators.
	v.SetDefault("probe.baud_rate", 115200)
	v.SetDefault("probe.read_timeout", "300ms")
	v.SetDefault("probe.settle_delay", "50ms")
	v.SetDefault("probe.read_size", 1024)
	v.SetDefault("probe.commands", DefaultCommands())
	v.SetDefault("probe.max_concurrent", 4)
	v.SetDefault("probe.usb_enrich", true)
	v.SetDefault("probe.signature.tokens", []string{"MDT", "THOR"})
	v.SetDefault("probe.signature.model_pattern", "69[34]")

	// Output defaults
	v.SetDefault("output.file", "mdt_devices.json")
	v.SetDefault("output.pretty", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "mdt-discovery")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// DefaultCommands returns the identification command set. The terminator
// varies per entry because controllers disagree on end-of-line handling.
func DefaultCommands() []string {
	return []string{"XR?\r", "ID?\r", "*IDN?\r", "XR?\n", "XR?"}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Probe.BaudRate <= 0 {
		return fmt.Errorf("probe.baud_rate must be positive")
	}
	if config.Probe.ReadTimeout <= 0 {
		return fmt.Errorf("probe.read_timeout must be positive")
	}
	if config.Probe.ReadSize <= 0 {
		return fmt.Errorf("probe.read_size must be positive")
	}
	if len(config.Probe.Commands) == 0 {
		return fmt.Errorf("probe.commands must not be empty")
	}
	if config.Probe.MaxConcurrent <= 0 {
		return fmt.Errorf("probe.max_concurrent must be positive")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// CommandBytes returns the probe commands as byte slices, in order.
func (p *ProbeConfig) CommandBytes() [][]byte {
	out := make([][]byte, 0, len(p.Commands))
	for _, c := range p.Commands {
		out = append(out, []byte(c))
	}
	return out
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
