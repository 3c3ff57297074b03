package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"farmledger/internal/client"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Identity IdentityConfig `yaml:"identity" json:"identity"`
	Client   ClientConfig   `yaml:"client" json:"client"`
	Bundles  BundlesConfig  `yaml:"bundles" json:"bundles"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" env:"FARMLEDGER_ADDR"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"FARMLEDGER_DATA_DIR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type StoreConfig struct {
	Driver     string `yaml:"driver" json:"driver" env:"FARMLEDGER_STORE"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path" env:"FARMLEDGER_SQLITE_PATH"`
}

type IdentityConfig struct {
	UIDCookie   string        `yaml:"uid_cookie" json:"uid_cookie"`
	TokenCookie string        `yaml:"token_cookie" json:"token_cookie"`
	Domain      string        `yaml:"cookie_domain" json:"cookie_domain" env:"FARMLEDGER_COOKIE_DOMAIN"`
	Secure      bool          `yaml:"cookie_secure" json:"cookie_secure" env:"FARMLEDGER_COOKIE_SECURE"`
	MaxAge      time.Duration `yaml:"max_age" json:"max_age"`
}

type ClientConfig struct {
	RollbackPolicy string `yaml:"rollback_policy" json:"rollback_policy" env:"FARMLEDGER_ROLLBACK_POLICY"`
}

type BundlesConfig struct {
	// CompletionThreshold is how many completed bundles restore the community center.
	CompletionThreshold int `yaml:"completion_threshold" json:"completion_threshold"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" env:"FARMLEDGER_LOG_LEVEL"`
}

func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":42069"
	}
	if strings.TrimSpace(c.Server.DataDir) == "" {
		c.Server.DataDir = "data"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.Store.Driver) == "" {
		c.Store.Driver = StoreFile
	}
	if c.Identity.UIDCookie == "" {
		c.Identity.UIDCookie = "uid"
	}
	if c.Identity.TokenCookie == "" {
		c.Identity.TokenCookie = "token"
	}
	if c.Identity.MaxAge <= 0 {
		c.Identity.MaxAge = 365 * 24 * time.Hour
	}
	if strings.TrimSpace(c.Client.RollbackPolicy) == "" {
		c.Client.RollbackPolicy = string(client.RollbackRevert)
	}
	if c.Bundles.CompletionThreshold <= 0 {
		c.Bundles.CompletionThreshold = 31
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := c.Client.SessionOptions(); err != nil {
		return err
	}
	return nil
}

// SessionOptions builds the client session options for the configured policy.
func (c ClientConfig) SessionOptions() (client.SessionOptions, error) {
	policy, err := client.ParseRollbackPolicy(c.RollbackPolicy)
	if err != nil {
		return client.SessionOptions{}, err
	}
	return client.SessionOptions{Rollback: policy}, nil
}

// Load reads the YAML file at path, applies environment overrides and fills in
// defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var r Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := env.Parse(&r); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// SQLitePath is the configured database path, defaulting into the data dir.
func (c *Config) SQLitePath() string {
	if p := strings.TrimSpace(c.Store.SQLitePath); p != "" {
		return p
	}
	return strings.TrimRight(c.Server.DataDir, "/") + "/saves.db"
}
