package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultServerURL       = "wss://game.spacemolt.com/ws"
	DefaultReconnectBase   = 2 * time.Second
	DefaultReconnectMax    = 30 * time.Second
	DefaultReconnectFactor = 1.5
	DefaultActionHold      = 8 * time.Second
	DefaultRouteMaxHops    = 15
	DefaultSyncDebounce    = 2 * time.Second
	DefaultSyncListen      = "127.0.0.1:5180"
)

// Config is the runtime configuration shared by the client and the sync server.
type Config struct {
	ServerURL       string        `mapstructure:"server-url"`
	ReconnectBase   time.Duration `mapstructure:"reconnect-base"`
	ReconnectMax    time.Duration `mapstructure:"reconnect-max"`
	ReconnectFactor float64       `mapstructure:"reconnect-factor"`
	ActionHold      time.Duration `mapstructure:"action-hold"`
	RouteMaxHops    int           `mapstructure:"route-max-hops"`
	DBPath          string        `mapstructure:"db-path"`
	LogFile         string        `mapstructure:"log-file"`
	RawLog          string        `mapstructure:"raw-log"`
	Debug           bool          `mapstructure:"debug"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SyncURL         string        `mapstructure:"sync-url"`
	SyncDebounce    time.Duration `mapstructure:"sync-debounce"`
	SyncListen      string        `mapstructure:"sync-listen"`
	SyncDataDir     string        `mapstructure:"sync-data-dir"`
	ConfigPath      string        `mapstructure:"-"` // not from config file
}

// Load reads configuration from configPath (or ~/.config/molt/config.yml when
// empty), MOLT_* environment variables and built-in defaults, in that order of
// precedence: env > file > default. A missing config file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MOLT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("server-url", DefaultServerURL)
	v.SetDefault("reconnect-base", DefaultReconnectBase)
	v.SetDefault("reconnect-max", DefaultReconnectMax)
	v.SetDefault("reconnect-factor", DefaultReconnectFactor)
	v.SetDefault("action-hold", DefaultActionHold)
	v.SetDefault("route-max-hops", DefaultRouteMaxHops)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "molt", "molt.db"))
	v.SetDefault("log-file", "molt_debug.log")
	v.SetDefault("raw-log", "")
	v.SetDefault("debug", false)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("sync-url", "")
	v.SetDefault("sync-debounce", DefaultSyncDebounce)
	v.SetDefault("sync-listen", DefaultSyncListen)
	v.SetDefault("sync-data-dir", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "molt", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the client cannot run with.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server-url must not be empty")
	}
	if c.ReconnectBase <= 0 {
		return fmt.Errorf("invalid reconnect-base: %s", c.ReconnectBase)
	}
	if c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect-max (%s) is below reconnect-base (%s)", c.ReconnectMax, c.ReconnectBase)
	}
	if c.ReconnectFactor <= 1 {
		return fmt.Errorf("reconnect-factor must be > 1, got %v", c.ReconnectFactor)
	}
	if c.RouteMaxHops <= 0 {
		return fmt.Errorf("invalid route-max-hops: %d", c.RouteMaxHops)
	}
	return nil
}
