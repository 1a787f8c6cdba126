// Package plugin implements the plugin engine of the reconf boot-manager
// configuration editor: manifest discovery and loading, schema validation,
// the capability-based role contracts, and the lifecycle registry with its
// hook dispatch system.
//
// # Manifests
//
// Each plugin ships a <name>.plugin.json manifest. Manifests are discovered
// recursively under three roots, in order: the bundled builtin directory,
// ./plugins, and ./.reconf/plugins.
//
//	{
//	  "name": "dark-theme",
//	  "version": "1.0.0",
//	  "type": "theme",
//	  "main": "dark-theme.lua",
//	  "description": "A dark color scheme",
//	  "dependencies": [{"name": "base-palette", "version": "^1.0.0"}],
//	  "permissions": ["ui-modify"],
//	  "config": {"primary_color": "#222222", "secondary_color": "#444444"}
//	}
//
// # Roles
//
// A plugin declares one of five types, each with a method contract: theme,
// config-parser, ui-component, validator, exporter. Native Go plugins
// satisfy the matching interface at compile time; script plugins are checked
// structurally for the role's functions when their module is loaded.
//
// # Implementations
//
// The manifest's main field names a Lua script next to the manifest. The
// script runs in a sandboxed state (io, os, debug and package are closed)
// and either returns its plugin table or assigns it to a global named
// plugin:
//
//	return {
//	    get_theme = function()
//	        return { colors = api.config }
//	    end,
//	    apply_theme = function(surface)
//	        surface.set_style("menu", { fg = api.config.primary_color })
//	    end,
//	    hooks = {
//	        ["ui:theme"] = { priority = 10, handler = function(data)
//	            data.theme = "dark"
//	            return data
//	        end },
//	    },
//	}
//
// The host api global provides api.log, api.error, api.config,
// api.has_permission, api.execute_hooks and api.register_hook.
//
// # Lifecycle
//
// A Registry owns all plugin state. Initialize loads every manifest and
// auto-activates themes and validators. ActivatePlugin resolves the
// dependency closure (topologically, failing fast on cycles), then stages
// each activation: load implementation, instantiate, initialize, and only
// then publish the instance and its hooks. Deactivation runs cleanup and
// removes the plugin's hook entries atomically. ExecuteHooks dispatches a
// named lifecycle event through the registered handlers in descending
// priority order, threading the event data through each.
package plugin
