package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// HostModule is the name under which plugins can require the host API
const HostModule = "host"

// Publisher delivers a payload to the listeners of a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// ExecError describes a failure raised by plugin code
type ExecError struct {
	Plugin string
	Stage  string // file or function that failed
	Err    error
	Trace  string // Lua traceback or Go stack
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: plugin %q: %s: %v", ErrPluginFailed, e.Plugin, e.Stage, e.Err)
}

// Unwrap lets errors.Is match both ErrPluginFailed and the cause
func (e *ExecError) Unwrap() []error {
	return []error{ErrPluginFailed, e.Err}
}

// Loader executes plugin folders as Lua units and invokes their entry point
type Loader struct {
	modules   *ModuleRegistry
	publisher Publisher
	log       logrus.FieldLogger
	extra     map[string]map[string]lua.LGFunction
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithLoaderPublisher sets where host.publish sends messages
func WithLoaderPublisher(p Publisher) LoaderOption {
	return func(l *Loader) {
		l.publisher = p
	}
}

// WithLoaderModule preloads a Go-implemented Lua module into every plugin state
func WithLoaderModule(name string, funcs map[string]lua.LGFunction) LoaderOption {
	return func(l *Loader) {
		l.extra[name] = funcs
	}
}

// NewLoader creates a loader that registers units in modules
func NewLoader(modules *ModuleRegistry, log logrus.FieldLogger, opts ...LoaderOption) *Loader {
	if modules == nil {
		modules = DefaultModules
	}
	if log == nil {
		log = logrus.New()
	}

	l := &Loader{
		modules: modules,
		log:     log,
		extra:   make(map[string]map[string]lua.LGFunction),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Modules returns the registry the loader registers units in
func (l *Loader) Modules() *ModuleRegistry {
	return l.modules
}

// Load executes rec's init.lua as a new unit named rec.Name, registers it, then
// calls load() from the "<name>.main" submodule. On failure the unit is
// unregistered and its state closed.
func (l *Loader) Load(ctx context.Context, rec Record) (unit *Unit, err error) {
	entryPath := filepath.Join(rec.Folder, EntryFile)
	if err := requireFile(entryPath, ErrEntryNotFound); err != nil {
		return nil, err
	}

	submodules := l.submodules(rec)
	L := l.newState(ctx, rec, submodules)

	var registered *Unit
	defer func() {
		if r := recover(); r != nil {
			err = &ExecError{
				Plugin: rec.Name,
				Stage:  "load",
				Err:    fmt.Errorf("panic: %v", r),
				Trace:  string(debug.Stack()),
			}
		}
		if err == nil {
			L.RemoveContext()
			return
		}
		if registered != nil {
			l.modules.Unregister(registered)
		} else {
			L.Close()
		}
		unit = nil
	}()

	exports, err := l.execEntry(L, rec, entryPath)
	if err != nil {
		return nil, err
	}

	setLoaded(L, rec.Name, exports)
	registered = &Unit{
		Name:     rec.Name,
		Folder:   rec.Folder,
		Exports:  exports,
		LoadedAt: time.Now(),
		state:    L,
	}
	l.modules.Register(registered)

	// main.lua or main/init.lua
	if _, ok := submodules[rec.Name+"."+MainModule]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMainModuleNotFound, filepath.Join(rec.Folder, MainModule+".lua"))
	}

	if err := l.callEntryPoint(L, rec); err != nil {
		return nil, err
	}

	return registered, nil
}

// execEntry runs init.lua with the plugin name as its argument and returns its exports
func (l *Loader) execEntry(L *lua.LState, rec Record, entryPath string) (*lua.LTable, error) {
	fn, err := L.LoadFile(entryPath)
	if err != nil {
		return nil, execError(rec.Name, EntryFile, err)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(rec.Name)); err != nil {
		return nil, execError(rec.Name, EntryFile, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if exports, ok := ret.(*lua.LTable); ok {
		return exports, nil
	}
	return L.NewTable(), nil
}

// callEntryPoint resolves "<name>.main" through require and calls its load()
func (l *Loader) callEntryPoint(L *lua.LState, rec Record) error {
	mainName := rec.Name + "." + MainModule

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("require"),
		NRet:    1,
		Protect: true,
	}, lua.LString(mainName)); err != nil {
		return execError(rec.Name, MainModule+".lua", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	mainTable, ok := ret.(*lua.LTable)
	if !ok {
		return fmt.Errorf("%w: %s returned %s", ErrNoEntryPoint, mainName, ret.Type())
	}

	loadFn, ok := L.GetField(mainTable, "load").(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntryPoint, mainName)
	}

	if err := L.CallByParam(lua.P{Fn: loadFn, NRet: 0, Protect: true}); err != nil {
		return execError(rec.Name, mainName+".load()", err)
	}

	return nil
}

// newState creates the Lua state a plugin runs in
func (l *Loader) newState(ctx context.Context, rec Record, submodules map[string]string) *lua.LState {
	L := lua.NewState()
	if ctx != nil {
		L.SetContext(ctx)
	}

	L.PreloadModule(HostModule, l.hostModule(rec))
	for name, funcs := range l.extra {
		L.PreloadModule(name, goModule(funcs))
	}
	for name, path := range submodules {
		L.PreloadModule(name, fileModule(path))
	}

	return L
}

// submodules maps "<name>.<dotted relative path>" to each Lua file in the plugin folder
func (l *Loader) submodules(rec Record) map[string]string {
	modules := make(map[string]string)

	_ = filepath.WalkDir(rec.Folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != rec.Folder && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".lua" {
			return nil
		}

		rel, err := filepath.Rel(rec.Folder, path)
		if err != nil {
			return nil
		}
		modName := strings.TrimSuffix(filepath.ToSlash(rel), ".lua")
		if modName == "init" {
			return nil
		}
		modName = strings.TrimSuffix(modName, "/init")
		modules[rec.Name+"."+strings.ReplaceAll(modName, "/", ".")] = path
		return nil
	})

	return modules
}

// hostModule builds the host API table for a plugin
func (l *Loader) hostModule(rec Record) lua.LGFunction {
	log := l.log.WithField("plugin", rec.Name)

	return goModule(map[string]lua.LGFunction{
		"name": func(L *lua.LState) int {
			L.Push(lua.LString(rec.Name))
			return 1
		},
		"log": func(L *lua.LState) int {
			level := L.CheckString(1)
			message := L.CheckString(2)
			logAt(log, level, message)
			return 0
		},
		"publish": func(L *lua.LState) int {
			topic := L.CheckString(1)
			payload := L.OptString(2, "")
			if l.publisher != nil {
				ctx := L.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				l.publisher.Publish(ctx, topic, payload)
			}
			return 0
		},
	})
}

// goModule returns a loader that builds a table from funcs
func goModule(funcs map[string]lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(L.SetFuncs(L.NewTable(), funcs))
		return 1
	}
}

// fileModule returns a loader that executes path with the module name as argument
func fileModule(path string) lua.LGFunction {
	return func(L *lua.LState) int {
		fn, err := L.LoadFile(path)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(fn)
		L.Push(L.Get(1))
		L.Call(1, 1)
		return 1
	}
}

// setLoaded records exports as the result of require(name)
func setLoaded(L *lua.LState, name string, exports *lua.LTable) {
	if loaded, ok := L.GetField(L.Get(lua.RegistryIndex), "_LOADED").(*lua.LTable); ok {
		loaded.RawSetString(name, exports)
	}
}

// requireFile returns sentinel wrapped with path if path is not a regular file
func requireFile(path string, sentinel error) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", sentinel, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", sentinel, path)
	}
	return nil
}

// execError wraps a Lua error, keeping its traceback
func execError(plugin, stage string, err error) error {
	execErr := &ExecError{Plugin: plugin, Stage: stage, Err: err}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		execErr.Trace = apiErr.StackTrace
	}
	return execErr
}

// logAt writes message at the named level, defaulting to info
func logAt(log logrus.FieldLogger, level, message string) {
	switch strings.ToLower(level) {
	case "debug", "trace":
		log.Debug(message)
	case "warn", "warning":
		log.Warn(message)
	case "error":
		log.Error(message)
	default:
		log.Info(message)
	}
}
