package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) any
		want     any
	}{
		{"config path", func(c *Config) any { return c.Remote.ConfigPath }, "config.yaml"},
		{"token env", func(c *Config) any { return c.Remote.TokenEnv }, EnvAPIToken},
		{"retry attempts", func(c *Config) any { return c.Remote.RetryAttempts }, 3},
		{"provision attempts", func(c *Config) any { return c.Provision.Attempts }, 3},
		{"idle interval", func(c *Config) any { return c.Provision.IdleInterval }, 5 * time.Second},
		{"idle timeout", func(c *Config) any { return c.Provision.IdleTimeout }, 30 * time.Second},
		{"workers", func(c *Config) any { return c.Provision.Workers }, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if cfg.Store.Dir == "" {
		t.Error("Store.Dir should default to a user data directory")
	}
	if !strings.HasPrefix(cfg.Remote.TreeURL, "https://") {
		t.Errorf("TreeURL = %q, want https", cfg.Remote.TreeURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "hominum.yaml")

	configContent := `
store:
  dir: "/custom/hominum"
  game_dir: "/games/hominum"
remote:
  tree_url: "https://git.example.org/api/tree?recursive=1"
  timeout: 10s
  retry_attempts: 5
provision:
  mirror_url: "https://mirror.example.org/mc/"
  workers: 8
  idle_timeout: 1m
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Store.Dir != "/custom/hominum" {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if cfg.WorkDir() != "/games/hominum" {
		t.Errorf("WorkDir() = %q", cfg.WorkDir())
	}
	if cfg.DBFile() != filepath.Join("/custom/hominum", "hominum.db") {
		t.Errorf("DBFile() = %q", cfg.DBFile())
	}
	if cfg.Remote.Timeout != 10*time.Second || cfg.Remote.RetryAttempts != 5 {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Provision.Workers != 8 || cfg.Provision.IdleTimeout != time.Minute {
		t.Errorf("Provision = %+v", cfg.Provision)
	}
	// untouched keys keep their defaults
	if cfg.Remote.ConfigPath != "config.yaml" || cfg.Provision.Attempts != 3 {
		t.Errorf("defaults lost: %+v %+v", cfg.Remote, cfg.Provision)
	}
}

func TestLoadIgnoresTokenInFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "hominum.yaml")
	if err := os.WriteFile(configFile, []byte("remote:\n  token: secret\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.Token != "" {
		t.Error("token must only come from the environment")
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidContent := `
store:
  dir: "/x"
  invalid: [unclosed bracket
`
	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Load() succeeded, want error for invalid YAML")
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvAPIToken, "ghp_test")
	t.Setenv(EnvStoreDir, "/env/store")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Remote.Token != "ghp_test" {
		t.Errorf("Token = %q", cfg.Remote.Token)
	}
	if cfg.Store.Dir != "/env/store" {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}

	t.Setenv("CUSTOM_TOKEN", "other")
	cfg.Remote.TokenEnv = "CUSTOM_TOKEN"
	cfg.ApplyEnv()
	if cfg.Remote.Token != "other" {
		t.Errorf("custom token env not honored: %q", cfg.Remote.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no store dir", func(c *Config) { c.Store.Dir = "" }},
		{"no tree url", func(c *Config) { c.Remote.TreeURL = "" }},
		{"negative workers", func(c *Config) { c.Provision.Workers = -1 }},
		{"negative attempts", func(c *Config) { c.Remote.RetryAttempts = -2 }},
		{"blank mirror", func(c *Config) { c.Provision.Mirrors = []string{"https://a.example.org", " "} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestMirrorCandidates(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.MirrorCandidates(); len(got) != 0 {
		t.Errorf("default candidates = %v, want none", got)
	}

	cfg.Provision.Mirrors = []string{"https://a.example.org", "https://b.example.org"}
	if got := cfg.MirrorCandidates(); len(got) != 2 {
		t.Errorf("candidates = %v", got)
	}

	cfg.Provision.MirrorURL = "https://pinned.example.org"
	got := cfg.MirrorCandidates()
	if len(got) != 1 || got[0] != "https://pinned.example.org" {
		t.Errorf("mirror_url should take precedence, got %v", got)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provision.MirrorURL = "https://mirror.example.org/"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "hominum.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.Provision.MirrorURL != cfg.Provision.MirrorURL || back.Provision.IdleTimeout != cfg.Provision.IdleTimeout {
		t.Errorf("round trip lost values: %+v", back.Provision)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

// TestFindConfigFileNotFound tests that FindConfigFile returns error when no config exists
func TestFindConfigFileNotFound(t *testing.T) {
	tempDir := t.TempDir()
	chdir(t, tempDir)
	t.Setenv("HOME", tempDir)

	if _, err := FindConfigFile(); err == nil {
		t.Error("FindConfigFile() succeeded, want error when no config exists")
	}
}

// TestFindConfigFileFound tests that FindConfigFile prefers the working directory
func TestFindConfigFileFound(t *testing.T) {
	tempDir := t.TempDir()
	chdir(t, tempDir)

	if err := os.WriteFile(filepath.Join(tempDir, "hominum.yaml"), []byte("store:\n  dir: /x\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != "hominum.yaml" {
		t.Errorf("FindConfigFile() = %q, want hominum.yaml", found)
	}
}

func TestFindConfigFileInHome(t *testing.T) {
	home := t.TempDir()
	chdir(t, t.TempDir())
	t.Setenv("HOME", home)

	want := filepath.Join(home, ".config", "hominum", "hominum.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != want {
		t.Errorf("FindConfigFile() = %q, want %q", found, want)
	}
}
