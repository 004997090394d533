package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	TTL     TTLConfig     `mapstructure:"ttl"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig contains storage-related configuration
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	InMemory   bool   `mapstructure:"in_memory"`
	GCInterval int    `mapstructure:"gc_interval"`
}

// TTLConfig describes the TTL tree to open
type TTLConfig struct {
	Tree            string        `mapstructure:"tree"`
	Duration        time.Duration `mapstructure:"duration"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepBatch      int           `mapstructure:"sweep_batch"`
	Reactive        bool          `mapstructure:"reactive"`
	ReconcileOnOpen bool          `mapstructure:"reconcile_on_open"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ttltree")
	}

	setDefaults(v)

	v.SetEnvPrefix("TTLTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.gc_interval", 300)

	v.SetDefault("ttl.tree", "default")
	v.SetDefault("ttl.duration", "60s")
	v.SetDefault("ttl.sweep_interval", "1s")
	v.SetDefault("ttl.sweep_batch", 512)
	v.SetDefault("ttl.reactive", false)
	v.SetDefault("ttl.reconcile_on_open", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if !config.Storage.InMemory {
		config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)
	}
	if config.Storage.GCInterval < 0 {
		return fmt.Errorf("storage.gc_interval must not be negative")
	}

	if config.TTL.Tree == "" {
		return fmt.Errorf("ttl.tree is required")
	}
	if config.TTL.Duration <= 0 {
		return fmt.Errorf("ttl.duration must be positive")
	}
	if config.TTL.SweepInterval <= 0 {
		return fmt.Errorf("ttl.sweep_interval must be positive")
	}
	if config.TTL.SweepBatch <= 0 {
		return fmt.Errorf("ttl.sweep_batch must be positive")
	}

	if hclog.LevelFromString(config.Logging.Level) == hclog.NoLevel {
		return fmt.Errorf("logging.level %q is not a known level", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GCPeriod returns the value-log GC period.
func (c StorageConfig) GCPeriod() time.Duration {
	return time.Duration(c.GCInterval) * time.Second
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validateConfig(&config)

	return &config
}
