package plugins

import (
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Unit is a plugin's executed code: its Lua state and the exports of init.lua
type Unit struct {
	Name     string
	Folder   string
	Exports  *lua.LTable
	LoadedAt time.Time

	state *lua.LState
}

// State returns the unit's Lua state
func (u *Unit) State() *lua.LState {
	return u.state
}

// Global returns a global variable from the unit's Lua state
func (u *Unit) Global(name string) lua.LValue {
	if u.state == nil || u.state.IsClosed() {
		return lua.LNil
	}
	return u.state.GetGlobal(name)
}

func (u *Unit) close() {
	if u.state != nil && !u.state.IsClosed() {
		u.state.Close()
	}
}

// ModuleRegistry is the set of loaded units, keyed by plugin name
type ModuleRegistry struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// DefaultModules is the process-wide module registry
var DefaultModules = NewModuleRegistry()

// NewModuleRegistry creates an empty module registry
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{units: make(map[string]*Unit)}
}

// Register adds a unit; an existing unit with the same name is replaced and closed
func (r *ModuleRegistry) Register(unit *Unit) {
	if unit == nil {
		return
	}

	r.mu.Lock()
	previous, exists := r.units[unit.Name]
	r.units[unit.Name] = unit
	r.mu.Unlock()

	if exists && previous != unit {
		previous.close()
	}
}

// Unregister removes the unit if it is still the one registered under its name,
// and closes it
func (r *ModuleRegistry) Unregister(unit *Unit) {
	if unit == nil {
		return
	}

	r.mu.Lock()
	if current, ok := r.units[unit.Name]; ok && current == unit {
		delete(r.units, unit.Name)
	}
	r.mu.Unlock()

	unit.close()
}

// Get retrieves a unit by name
func (r *ModuleRegistry) Get(name string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.units[name]
	return unit, ok
}

// Has checks if a unit is registered
func (r *ModuleRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered unit names in sorted order
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered units
func (r *ModuleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.units)
}

// Clear closes and removes every unit
func (r *ModuleRegistry) Clear() {
	r.mu.Lock()
	units := r.units
	r.units = make(map[string]*Unit)
	r.mu.Unlock()

	for _, unit := range units {
		unit.close()
	}
}
