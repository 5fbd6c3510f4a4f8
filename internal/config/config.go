// Package config loads process-level configuration from the environment
// (and an optional .env file), the way the rest of this module expects
// it wired together.
package config

import (
	"context"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds everything read from the environment at startup.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	DataDir     string `env:"DATA_DIR,default=./data"`

	// Same client ID the Android TV app uses; device-code auth needs no
	// client secret.
	TwitchClientID string `env:"TWITCH_CLIENT_ID,default=kd1unb4b3q4t58fwlpcbzcbnm76a8fp"`

	DashboardAddr string `env:"DASHBOARD_ADDR,default=:8080"`
}

// Load reads a .env file if present, then overlays environment variables
// onto the defaults above.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SettingsPath is where the persisted mining settings live.
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }

// DatabasePath is where the sqlite session ledger lives.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "miner.db") }

// TokenPath is where the saved OAuth token lives between runs.
func (c *Config) TokenPath() string { return filepath.Join(c.DataDir, "token.json") }

// CookiePath is where the persisted cookie jar (device id, any adopted
// auth-token) lives between runs.
func (c *Config) CookiePath() string { return filepath.Join(c.DataDir, "cookies.json") }

// LockPath is the single-instance lock file's location.
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, "miner.lock") }

// HealthcheckPath is the file the dashboard's /healthz handler writes
// each time it is requested; the watch loop does not touch it.
func (c *Config) HealthcheckPath() string { return filepath.Join(c.DataDir, "healthcheck") }

// DashboardStaticDir is where the status dashboard's optional static
// assets (a small HTML/JS status page) are served from, if present.
func (c *Config) DashboardStaticDir() string { return filepath.Join(c.DataDir, "web") }
