package plugins

import (
	"errors"
	"fmt"
)

// Manifest-level errors. Discovery logs these at warning level and skips the manifest.
var (
	// ErrManifestNotFound is returned when a manifest vanished between the scan and the read
	ErrManifestNotFound = errors.New("plugin manifest not found")

	// ErrMalformedManifest is returned when a manifest is not a valid JSON object
	ErrMalformedManifest = errors.New("malformed plugin manifest")

	// ErrMissingKey is returned when a required manifest key is absent
	ErrMissingKey = errors.New("missing required key in plugin manifest")
)

// Load-level errors. The manager logs these at error level; the host keeps running.
var (
	// ErrEntryNotFound is returned when the plugin folder has no init.lua
	ErrEntryNotFound = errors.New("plugin entry file not found")

	// ErrMainModuleNotFound is returned when the plugin folder has neither main.lua nor main/init.lua
	ErrMainModuleNotFound = errors.New("plugin main module not found")

	// ErrNoEntryPoint is returned when the main module does not expose load()
	ErrNoEntryPoint = errors.New("plugin main module has no load function")

	// ErrPluginFailed is returned when plugin code raised an error while executing
	ErrPluginFailed = errors.New("plugin execution failed")

	// ErrLoadInProgress is returned when a plugin is asked to load while a load of
	// the same plugin, including delivery of the messages it published, is running
	ErrLoadInProgress = errors.New("plugin load already in progress")
)

// MissingKeyError reports which required key a manifest lacks
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingKey, e.Key)
}

// Unwrap lets errors.Is match ErrMissingKey
func (e *MissingKeyError) Unwrap() error {
	return ErrMissingKey
}

// isExpectedLoadError reports whether err belongs to a recognized load failure class
func isExpectedLoadError(err error) bool {
	return errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrMainModuleNotFound)
}
