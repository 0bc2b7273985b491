// Package gamelib is a small provisioning dependency that installs game
// versions from a prepared mirror. Each version is described by a manifest at
// <mirror>/versions/<id>.json listing every file with its checksum.
package gamelib

import (
	"encoding/json"
	"fmt"
	"os"
)

// File kinds in a manifest.
const (
	KindClient  = "client"
	KindLibrary = "library"
	KindAsset   = "asset"
	KindNative  = "native"
	KindLogging = "logging"
)

// Manifest describes one installable version.
type Manifest struct {
	ID        string   `json:"id"`
	Inherits  string   `json:"inherits,omitempty"`
	MainClass string   `json:"main_class"`
	JVMArgs   []string `json:"jvm_args,omitempty"`
	GameArgs  []string `json:"game_args,omitempty"`

	Java struct {
		Component string `json:"component"`
		Major     int    `json:"major"`
	} `json:"java"`

	AssetIndex struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	} `json:"asset_index"`

	Logging string `json:"logging,omitempty"`

	Loader *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"loader,omitempty"`

	Forge *struct {
		Version    string   `json:"version"`
		Processors []string `json:"processors"`
	} `json:"forge,omitempty"`

	Files []ManifestFile `json:"files"`
}

// ManifestFile is one file to place under the install directory.
type ManifestFile struct {
	Path   string `json:"path"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Count returns how many files have the given kind.
func (m *Manifest) Count(kind string) int {
	n := 0
	for _, f := range m.Files {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.ID == "" || m.MainClass == "" {
		return nil, fmt.Errorf("manifest %s: id and main_class are required", path)
	}
	return &m, nil
}
