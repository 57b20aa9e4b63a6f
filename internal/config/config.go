// Package config centralizes the settings every fcs subcommand reads:
// database DSN, listen address, worker identity, dispatch slots and the
// heartbeat/liveness tuning. It layers flags over environment variables
// over an optional config file the way the retrieved quorum-ai CLI does
// with viper, under an FCS_ prefix instead of QUORUM_.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of settings any fcs subcommand might need; each
// subcommand reads only the fields relevant to it.
type Config struct {
	DatabaseDSN string `mapstructure:"database_dsn"`

	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	LogLevel    string   `mapstructure:"log_level"`
	LogFormat   string   `mapstructure:"log_format"`

	WorkerID          string        `mapstructure:"worker_id"`
	Slots             int           `mapstructure:"slots"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessWindow    time.Duration `mapstructure:"liveness_window"`
}

// flagBindings maps a viper/mapstructure key to the flag name a
// subcommand registers for it. Not every subcommand registers every
// flag - BindPFlag is skipped for ones fs doesn't have.
var flagBindings = map[string]string{
	"database_dsn":       "database",
	"listen_addr":        "listen",
	"log_level":          "log-level",
	"log_format":         "log-format",
	"worker_id":          "id",
	"slots":              "slots",
	"heartbeat_interval": "heartbeat-interval",
	"liveness_window":    "liveness-window",
}

// Load reads a config file (cfgFile if given, otherwise fcs.yaml from the
// current directory or $HOME/.config/fcs, if present) and the
// environment (FCS_*), then binds flags already
// registered on fs so flag values win over both. cfgFile may be empty.
func Load(fs *pflag.FlagSet, cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", "localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("slots", 1)
	v.SetDefault("heartbeat_interval", 5*time.Second)
	v.SetDefault("liveness_window", 15*time.Second)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("fcs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/fcs")
	}

	v.SetEnvPrefix("FCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: couldn't read config file: %w", err)
		}
	}

	if fs != nil {
		for key, flagName := range flagBindings {
			flag := fs.Lookup(flagName)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("config: couldn't bind flag %q: %w", flagName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: couldn't unmarshal: %w", err)
	}

	return cfg, nil
}
