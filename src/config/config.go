// Package config provides configuration for the mozci tooling.
//
// Values come from the environment (MOZCI_ prefix) layered over an optional
// mozci.yaml found in /etc/mozci, $HOME/.config/mozci or the working
// directory.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// User and Password authenticate against self-serve.
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// BuildAPIHost overrides the self-serve host root.
	BuildAPIHost string `mapstructure:"buildapi_host"`
	// JobDataHost overrides the detailed job status host root.
	JobDataHost string `mapstructure:"jobdata_host"`
	// CatalogURL is where the builder catalog document is fetched from.
	CatalogURL string `mapstructure:"catalog_url"`

	// CacheFile is the local repository catalog cache path.
	CacheFile string `mapstructure:"cache_file"`
	// BuildersFile is where the diagnostic builder list is dumped.
	BuildersFile string `mapstructure:"builders_file"`

	// HTTPTimeout applies to every outgoing request; zero selects the
	// client default.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Load reads configuration from the environment and optional config file.
// Credentials are required; everything else has a usable default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("mozci")
	v.AutomaticEnv()

	v.SetConfigName("mozci")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mozci/")
	v.AddConfigPath("$HOME/.config/mozci")
	v.AddConfigPath(".")
	// A missing config file is fine, the environment can carry everything.
	_ = v.ReadInConfig()

	// Bind explicitly so AutomaticEnv sees keys that are absent from the
	// config file.
	for _, key := range []string{
		"user", "password", "buildapi_host", "jobdata_host",
		"catalog_url", "cache_file", "builders_file", "http_timeout",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("MOZCI_USER and MOZCI_PASSWORD are required")
	}
	return &cfg, nil
}

// MustLoad loads configuration and panics on error. Useful in main() where
// configuration errors are fatal anyway.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
