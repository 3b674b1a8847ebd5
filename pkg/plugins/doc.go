// Package plugins discovers plugins on disk and loads them into the host.
//
// # Overview
//
// A plugin is a folder holding a plugin.json manifest and Lua code:
//
//	plugins/foo/plugin.json   {"name": "Foo", "description": "demo", "enable-startup": false}
//	plugins/foo/init.lua      executed first; may return a table of exports
//	plugins/foo/main.lua      returns a table with a load() function
//
// Manager.FindPlugins walks the built-in and user plugin roots, reads every
// plugin.json it finds and swaps in a new Registry. Manifests that cannot be read,
// are malformed, or lack name/description are logged and skipped.
//
// Manager.LoadPlugin runs init.lua in a fresh Lua state, registers the resulting
// Unit in the ModuleRegistry and calls load() from the "<name>.main" module.
// Unknown names are ignored. A failed load is rolled back and the plugin stays
// discovered.
//
// # Lua API
//
// Every plugin state can require these modules:
//
//	local host = require("host")
//	host.name()                      -- plugin name
//	host.log("info", "message")      -- write to the host log
//	host.publish("topic", "payload") -- publish on the host event bus
//
// Other Lua files in the folder are available as "<name>.<path>", for example
// require("Foo.lib.util") for lib/util.lua.
//
// # Usage Example
//
//	manager := plugins.NewManager([]string{builtinDir, userDir}, logger,
//		plugins.WithPublisher(bus),
//	)
//	defer manager.Bind(bus)()
//
//	registry := manager.FindPlugins(ctx)
//	for _, name := range registry.Names() {
//		fmt.Println(name, manager.State(name))
//	}
//
//	bus.Publish(ctx, events.TopicLoadPlugin, "Foo")
//
// # Related Packages
//
//   - pkg/events: Event bus the manager binds to
//   - pkg/watch: Re-runs discovery when plugin roots change
package plugins
