package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIToken = "HOMINUM_API_TOKEN"
	EnvStoreDir = "HOMINUM_STORE_DIR"
)

// Config is the top-level configuration
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Remote    RemoteConfig    `yaml:"remote"`
	Provision ProvisionConfig `yaml:"provision"`
}

// StoreConfig holds local state locations
type StoreConfig struct {
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"db_path"`
	GameDir string `yaml:"game_dir"`
}

// RemoteConfig holds content repository settings
type RemoteConfig struct {
	TreeURL       string        `yaml:"tree_url"`
	ConfigPath    string        `yaml:"config_path"`
	TokenEnv      string        `yaml:"token_env"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// Token is never read from the file.
	Token string `yaml:"-"`
}

// ProvisionConfig holds game install settings. Mirrors are probed and the
// fastest is used when MirrorURL is empty.
type ProvisionConfig struct {
	MirrorURL    string        `yaml:"mirror_url"`
	Mirrors      []string      `yaml:"mirrors,omitempty"`
	Workers      int           `yaml:"workers"`
	Attempts     int           `yaml:"attempts"`
	IdleInterval time.Duration `yaml:"idle_interval"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CPUThreshold float64       `yaml:"cpu_threshold"`
	Grace        time.Duration `yaml:"grace"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	dir := ".hominum"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".local", "share", "hominum")
	}
	return &Config{
		Store: StoreConfig{
			Dir: dir,
		},
		Remote: RemoteConfig{
			TreeURL:       "https://api.github.com/repos/Trogiken/Hominum-Updates/git/trees/master?recursive=1",
			ConfigPath:    "config.yaml",
			TokenEnv:      EnvAPIToken,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Provision: ProvisionConfig{
			Workers:      4,
			Attempts:     3,
			IdleInterval: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
			CPUThreshold: 1,
			Grace:        5 * time.Second,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"hominum.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "hominum", "hominum.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// ApplyEnv overlays environment variables: the API token from
// Remote.TokenEnv and the store directory from HOMINUM_STORE_DIR.
func (c *Config) ApplyEnv() {
	env := c.Remote.TokenEnv
	if env == "" {
		env = EnvAPIToken
	}
	if tok := os.Getenv(env); tok != "" {
		c.Remote.Token = tok
	}
	if dir := os.Getenv(EnvStoreDir); dir != "" {
		c.Store.Dir = dir
	}
}

// DBFile returns the settings database path
func (c *Config) DBFile() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	return filepath.Join(c.Store.Dir, "hominum.db")
}

// WorkDir returns the game directory content is synced into
func (c *Config) WorkDir() string {
	if c.Store.GameDir != "" {
		return c.Store.GameDir
	}
	return filepath.Join(c.Store.Dir, "game")
}

// Validate checks the settings an install needs.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if c.Remote.TreeURL == "" {
		return fmt.Errorf("remote.tree_url is required")
	}
	for _, m := range c.Provision.Mirrors {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("provision.mirrors must not contain empty entries")
		}
	}
	if c.Provision.Workers < 0 {
		return fmt.Errorf("provision.workers must not be negative")
	}
	if c.Provision.Attempts < 0 || c.Remote.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	return nil
}

// MirrorCandidates returns the mirrors an install may use, the explicit
// mirror_url taking precedence over the probed list.
func (c *Config) MirrorCandidates() []string {
	if c.Provision.MirrorURL != "" {
		return []string{c.Provision.MirrorURL}
	}
	return c.Provision.Mirrors
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
