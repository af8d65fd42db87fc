package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional per-root catalog manifest.
const ManifestFile = ".scriptdeck.yaml"

// Manifest customizes how a folder or repository is cataloged.
type Manifest struct {
	Description string   `yaml:"description"`
	Exclude     []string `yaml:"exclude"`
}

// loadManifest reads the manifest at root. A missing file is an empty manifest.
func loadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	for _, pattern := range m.Exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return &m, nil
}

// excludes reports whether the slash-separated relative path matches an
// exclude pattern, either in full or by its base name.
func (m *Manifest) excludes(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range m.Exclude {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
