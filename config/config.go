/*
Package config loads daemon configuration from a TOML file.

PURPOSE:
  One struct, one Load function. Values absent from the file keep their
  defaults, so a minimal config file only needs to override what
  differs from DefaultConfig(). Per-repository economy settings live in
  the database (karma.RepoConfig); this file only seeds the defaults
  applied when a repository is first installed.

SEE ALSO:
  - karma/provisioner.go: consumes Economy as EconomyDefaults
  - cmd/karmad/main.go:   loads this at startup
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`
	Economy EconomyConfig `toml:"economy"`

	// Admins maps "owner/name" to the logins holding the admin
	// capability there, on top of the repo owner who always has it.
	Admins map[string][]string `toml:"admins"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// AllowedOrigins are the CORS origins permitted to call the
	// settings and balance endpoints.
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" gives an
	// ephemeral store.
	Path string `toml:"path"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// EconomyConfig seeds the per-repository economy settings for newly
// installed repositories.
type EconomyConfig struct {
	InitialGrant    int64  `toml:"initial_grant"`
	MergePenalty    int64  `toml:"merge_penalty"`
	ReviewBonus     int64  `toml:"review_bonus"`
	CommentBonus    int64  `toml:"comment_bonus"`
	ComplexityBonus int64  `toml:"complexity_bonus"`
	RecheckToken    string `toml:"recheck_token"`
	AdminToken      string `toml:"admin_recheck_token"`

	// TimelyWindow is parsed with time.ParseDuration ("1h", "30m").
	// Empty disables the timely-review bonus.
	TimelyWindow string `toml:"timely_window"`
	TimelyBonus  int64  `toml:"timely_bonus"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Store: StoreConfig{
			Path: "karma.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Economy: EconomyConfig{
			InitialGrant:    400,
			MergePenalty:    100,
			ReviewBonus:     50,
			CommentBonus:    5,
			ComplexityBonus: 20,
			RecheckToken:    "✨",
			AdminToken:      "🚀",
		},
	}
}

// Load reads TOML from path on top of the defaults. A missing file is
// an error; use DefaultConfig directly when no file is configured.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Economy.MergePenalty < 0 || c.Economy.InitialGrant < 0 {
		return fmt.Errorf("economy amounts must not be negative")
	}
	if c.Economy.TimelyWindow != "" {
		if _, err := time.ParseDuration(c.Economy.TimelyWindow); err != nil {
			return fmt.Errorf("invalid timely_window: %w", err)
		}
	}
	return nil
}

// TimelyWindowDuration returns the parsed timely-review window, zero
// when unset. validate() already rejected malformed values.
func (c EconomyConfig) TimelyWindowDuration() time.Duration {
	if c.TimelyWindow == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.TimelyWindow)
	return d
}
