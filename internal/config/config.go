package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	Mock    MockConfig    `yaml:"mock"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

type SyncConfig struct {
	// SendBuffer is the number of outbound messages queued per connection
	// before the connection is dropped as too slow.
	SendBuffer      int           `yaml:"send_buffer"`
	PersistDebounce time.Duration `yaml:"persist_debounce"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type CatalogConfig struct {
	Path       string `yaml:"path"`
	MaxResults int    `yaml:"max_results"`
}

type MockConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Sync: SyncConfig{
			SendBuffer:      256,
			PersistDebounce: 500 * time.Millisecond,
			PingInterval:    30 * time.Second,
		},
		Storage: StorageConfig{
			SQLitePath: "schedules.db",
		},
		Catalog: CatalogConfig{
			Path:       "catalog.yaml",
			MaxResults: 20,
		},
		Mock: MockConfig{
			Interval: 2 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Server.MaxConnections < 0:
		return fmt.Errorf("server.max_connections must not be negative")
	case c.Sync.SendBuffer <= 0:
		return fmt.Errorf("sync.send_buffer must be positive")
	case c.Sync.PersistDebounce <= 0:
		return fmt.Errorf("sync.persist_debounce must be positive")
	case c.Sync.PingInterval <= 0:
		return fmt.Errorf("sync.ping_interval must be positive")
	case c.Catalog.MaxResults <= 0:
		return fmt.Errorf("catalog.max_results must be positive")
	case c.Mock.Enabled && c.Mock.Interval <= 0:
		return fmt.Errorf("mock.interval must be positive")
	}
	return nil
}

// Loopback reports whether the server only listens on a loopback address.
func (c *Config) Loopback() bool {
	host := strings.Trim(c.Server.Host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// GenerateToken returns a random 128-bit token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
