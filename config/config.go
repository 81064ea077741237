package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the remote endpoint settings. They are handed to the
// transfer endpoint as-is; out-of-range values are the endpoint's problem
// to default or reject.
type Config struct {
	Address    string        `mapstructure:"address"`
	Port       int           `mapstructure:"port"`
	BlockSize  int           `mapstructure:"block_size"`
	Retries    int           `mapstructure:"retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	WindowSize int           `mapstructure:"window_size"`
}

// Load reads config.yaml from path if present and fills in defaults
// otherwise. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("ntftp")
	v.AutomaticEnv()

	v.SetDefault("address", "localhost")
	v.SetDefault("port", 69)
	v.SetDefault("block_size", 512)
	v.SetDefault("retries", 3)
	v.SetDefault("timeout", 3*time.Second)
	v.SetDefault("window_size", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the endpoint address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
