package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool   `env:"DEBUG" envDefault:"false"`
	Bind  string `env:"BIND_ADDR" envDefault:":8420"`

	// DataDir holds the wallet database; empty means a per-user default.
	DataDir string `env:"DATA_DIR"`

	// RestorePhrase, when set, overwrites the stored identity on startup
	// (wallet restore). Clearing it from the environment afterwards is the
	// operator's job.
	RestorePhrase string `env:"RESTORE_PHRASE"`
}

func Load() (*Config, error) {
	// .env is optional; in production the variables are set directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// defaultDataDir prefers the per-user config dir and falls back to the
// working directory.
func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "peanutpal")
	}
	return ".peanutpal"
}

// DBPath returns the wallet database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "wallet.db")
}
