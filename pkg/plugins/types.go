package plugins

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// ManifestFile is the manifest name discovery looks for at any depth
	ManifestFile = "plugin.json"

	// EntryFile is executed first when a plugin is loaded
	EntryFile = "init.lua"

	// MainModule is the submodule holding the plugin's load function
	MainModule = "main"
)

// Record is the metadata registered for one discovered plugin
type Record struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Folder        string `json:"folder"`         // Manifest's parent directory
	EnableStartup bool   `json:"enable_startup"` // Load right after startup discovery
	ManifestPath  string `json:"manifest"`
}

// State is the lifecycle state of a plugin as seen by the manager
type State int

const (
	StateUndiscovered State = iota
	StateDiscovered
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUndiscovered:
		return "undiscovered"
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{StateUndiscovered, StateDiscovered, StateLoaded} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown plugin state %q", text)
}

// Registry is an immutable name-to-record mapping produced by one discovery run.
// A nil *Registry behaves like an empty one.
type Registry struct {
	records map[string]Record
}

// NewRegistry builds a registry from records. Later records replace earlier ones
// with the same name.
func NewRegistry(records ...Record) *Registry {
	r := &Registry{records: make(map[string]Record, len(records))}
	for _, rec := range records {
		r.records[rec.Name] = rec
	}
	return r
}

// Get returns the record registered under name
func (r *Registry) Get(name string) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	rec, ok := r.records[name]
	return rec, ok
}

// Has checks if a plugin name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered plugins
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	if r == nil {
		return []string{}
	}
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns all records sorted by name
func (r *Registry) Records() []Record {
	names := r.Names()
	result := make([]Record, 0, len(names))
	for _, name := range names {
		result = append(result, r.records[name])
	}
	return result
}

// Map returns a copy of the underlying mapping
func (r *Registry) Map() map[string]Record {
	m := make(map[string]Record, r.Len())
	if r == nil {
		return m
	}
	for name, rec := range r.records {
		m[name] = rec
	}
	return m
}

// MarshalJSON encodes the registry as an object keyed by plugin name
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
