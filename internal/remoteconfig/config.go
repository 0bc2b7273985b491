// Package remoteconfig fetches and parses the launcher configuration that
// lives in the content repository.
package remoteconfig

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when the server address has no port.
const DefaultPort = 25565

// ServerAddress is the multiplayer server players auto-join.
type ServerAddress struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// String renders host:port, or "" when no host is configured.
func (a ServerAddress) String() string {
	if a.Host == "" {
		return ""
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// VariantParams holds the version parameters of one game variant. Empty
// strings mean the field was absent.
type VariantParams struct {
	MCVersion     string `yaml:"mc_version" json:"mc_version,omitempty"`
	LoaderVersion string `yaml:"loader_version" json:"loader_version,omitempty"`
	ForgeVersion  string `yaml:"forge_version" json:"forge_version,omitempty"`
}

// SyncPolicy controls how one remote path is reconciled with local disk.
type SyncPolicy struct {
	LocalRoot         string   `json:"root"`
	OverwriteExisting bool     `json:"overwrite_existing"`
	IsDirectory       bool     `json:"is_directory"`
	FirstStartOnly    bool     `json:"first_start_only"`
	DeleteOthers      bool     `json:"delete_others"`
	Exclude           []string `json:"exclude,omitempty"`
}

// Excluded reports whether any exclude substring occurs in path.
func (p SyncPolicy) Excluded(path string) bool {
	for _, sub := range p.Exclude {
		if sub != "" && strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

// SyncPath pairs a remote path prefix with its policy.
type SyncPath struct {
	Remote string     `json:"remote"`
	Policy SyncPolicy `json:"policy"`
}

// Config is the parsed remote document. SyncPaths keeps the document order,
// which is the order paths are synced in.
type Config struct {
	SelectedGame string                   `json:"selected_game"`
	Server       ServerAddress            `json:"server"`
	Games        map[string]VariantParams `json:"games"`
	SyncPaths    []SyncPath               `json:"sync_paths"`
}

// Variant returns the parameters of the selected game.
func (c *Config) Variant() (VariantParams, bool) {
	p, ok := c.Games[c.SelectedGame]
	return p, ok
}

type rawConfig struct {
	Startup struct {
		Game     string         `yaml:"game"`
		Server   *ServerAddress `yaml:"server"`
		ServerIP string         `yaml:"server_ip"`
	} `yaml:"startup"`
	Games map[string]VariantParams `yaml:"games"`
	Paths yaml.Node                `yaml:"paths"`
}

type rawPolicy struct {
	Root              string   `yaml:"root"`
	OverwriteExisting bool     `yaml:"overwrite_existing"`
	IsDirectory       *bool    `yaml:"is_directory"`
	FirstStartOnly    bool     `yaml:"first_start_only"`
	DeleteOthers      bool     `yaml:"delete_others"`
	Exclude           []string `yaml:"exclude"`
}

// Parse decodes a remote configuration document.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := &Config{
		SelectedGame: strings.ToLower(strings.TrimSpace(raw.Startup.Game)),
		Games:        make(map[string]VariantParams, len(raw.Games)),
	}
	for name, params := range raw.Games {
		cfg.Games[strings.ToLower(name)] = params
	}

	switch {
	case raw.Startup.Server != nil:
		cfg.Server = *raw.Startup.Server
	case raw.Startup.ServerIP != "":
		addr, err := parseServerIP(raw.Startup.ServerIP)
		if err != nil {
			return nil, err
		}
		cfg.Server = addr
	}
	if cfg.Server.Host != "" && cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}

	paths, err := parsePaths(&raw.Paths)
	if err != nil {
		return nil, err
	}
	cfg.SyncPaths = paths
	return cfg, nil
}

// parseServerIP accepts "host" or "host:port".
func parseServerIP(s string) (ServerAddress, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port
		return ServerAddress{Host: s, Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ServerAddress{}, fmt.Errorf("invalid server_ip port %q", portStr)
	}
	return ServerAddress{Host: host, Port: port}, nil
}

func parsePaths(node *yaml.Node) ([]SyncPath, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("paths: expected mapping, got %s", kindName(node.Kind))
	}

	out := make([]SyncPath, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		remote := strings.TrimSpace(key.Value)
		if remote == "" {
			return nil, fmt.Errorf("paths: line %d: empty remote path", key.Line)
		}
		if seen[remote] {
			return nil, fmt.Errorf("paths: line %d: duplicate remote path %q", key.Line, remote)
		}
		seen[remote] = true

		var rp rawPolicy
		if val.Kind != yaml.ScalarNode || val.Tag != "!!null" {
			if err := val.Decode(&rp); err != nil {
				return nil, fmt.Errorf("paths: %q: %w", remote, err)
			}
		}

		policy := SyncPolicy{
			LocalRoot:         rp.Root,
			OverwriteExisting: rp.OverwriteExisting,
			IsDirectory:       strings.HasSuffix(remote, "/"),
			FirstStartOnly:    rp.FirstStartOnly,
			DeleteOthers:      rp.DeleteOthers,
		}
		if rp.IsDirectory != nil {
			policy.IsDirectory = *rp.IsDirectory
		}
		if policy.LocalRoot == "" {
			policy.LocalRoot = strings.TrimSuffix(remote, "/")
		}
		for _, ex := range rp.Exclude {
			if ex = strings.TrimSpace(ex); ex != "" {
				policy.Exclude = append(policy.Exclude, ex)
			}
		}
		out = append(out, SyncPath{Remote: remote, Policy: policy})
	}
	return out, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.DocumentNode:
		return "document"
	case yaml.AliasNode:
		return "alias"
	case yaml.MappingNode:
		return "mapping"
	default:
		return fmt.Sprint(k)
	}
}
