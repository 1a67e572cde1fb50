// Package config provides a reusable loader for client configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nativekv/client-go/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the on-disk/environment configuration for a client process:
// cluster connection settings, default per-call policy timeouts, and the
// ambient logging settings, mirroring the teacher's one-struct-per-
// concern config layout.
type Config struct {
	Cluster struct {
		Hosts              []string `mapstructure:"hosts" json:"hosts"`
		User               string   `mapstructure:"user" json:"user"`
		Password           string   `mapstructure:"password" json:"password"`
		ClusterName        string   `mapstructure:"cluster_name" json:"cluster_name"`
		MinConnsPerNode    int      `mapstructure:"min_conns_per_node" json:"min_conns_per_node"`
		MaxConnsPerNode    int      `mapstructure:"max_conns_per_node" json:"max_conns_per_node"`
		TendIntervalMS     int      `mapstructure:"tend_interval_ms" json:"tend_interval_ms"`
		LoginTimeoutMS     int      `mapstructure:"login_timeout_ms" json:"login_timeout_ms"`
		RackAware          bool     `mapstructure:"rack_aware" json:"rack_aware"`
		RackID             int      `mapstructure:"rack_id" json:"rack_id"`
		FailIfNotConnected bool     `mapstructure:"fail_if_not_connected" json:"fail_if_not_connected"`
	} `mapstructure:"cluster" json:"cluster"`

	Policy struct {
		SocketTimeoutMS int `mapstructure:"socket_timeout_ms" json:"socket_timeout_ms"`
		TotalTimeoutMS  int `mapstructure:"total_timeout_ms" json:"total_timeout_ms"`
		MaxRetries      int `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"policy" json:"policy"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	// godotenv populates the process environment from a local .env file
	// before viper.AutomaticEnv reads it; a missing file is not an error.
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/kvcli/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the KVCLIENT_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("KVCLIENT_ENV", ""))
}

// ClusterHosts returns the configured seed host list.
func (c *Config) ClusterHosts() []string { return c.Cluster.Hosts }

// TendInterval converts the configured tend cadence to a time.Duration,
// keeping millisecond-to-Duration math at the config edge rather than in
// core's policy structs.
func (c *Config) TendInterval() time.Duration {
	return time.Duration(c.Cluster.TendIntervalMS) * time.Millisecond
}

func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.Cluster.LoginTimeoutMS) * time.Millisecond
}

func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.Policy.SocketTimeoutMS) * time.Millisecond
}

func (c *Config) TotalTimeout() time.Duration {
	return time.Duration(c.Policy.TotalTimeoutMS) * time.Millisecond
}
