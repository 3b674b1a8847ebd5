package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Manifest is the parsed content of a plugin.json file
type Manifest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	EnableStartup bool   `json:"enable-startup"`

	// path of the manifest file itself
	path string
}

// rawManifest tracks key presence; a null value counts as absent
type rawManifest struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	EnableStartup *bool   `json:"enable-startup"`
}

// LoadManifest reads and validates a plugin manifest from path.
// Failures wrap ErrManifestNotFound, ErrMalformedManifest or ErrMissingKey;
// any other error is unexpected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return ParseManifest(data, path)
}

// ParseManifest decodes manifest bytes; path is recorded for Folder resolution
func ParseManifest(data []byte, path string) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, path, err)
	}

	if raw.Name == nil {
		return nil, &MissingKeyError{Key: "name"}
	}
	if raw.Description == nil {
		return nil, &MissingKeyError{Key: "description"}
	}

	m := &Manifest{
		Name:        *raw.Name,
		Description: *raw.Description,
		path:        path,
	}
	if raw.EnableStartup != nil {
		m.EnableStartup = *raw.EnableStartup
	}

	return m, nil
}

// Path returns the manifest file path
func (m *Manifest) Path() string {
	return m.path
}

// Folder returns the plugin folder, the manifest's parent directory
func (m *Manifest) Folder() string {
	return filepath.Dir(m.path)
}

// Record converts the manifest into a registry record
func (m *Manifest) Record() Record {
	return Record{
		Name:          m.Name,
		Description:   m.Description,
		Folder:        m.Folder(),
		EnableStartup: m.EnableStartup,
		ManifestPath:  m.path,
	}
}

// manifestReason maps a manifest error onto a metrics label
func manifestReason(err error) string {
	switch {
	case errors.Is(err, ErrManifestNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedManifest):
		return "malformed"
	case errors.Is(err, ErrMissingKey):
		return "missing_key"
	default:
		return "unexpected"
	}
}
