package plugin

import (
	"sort"
)

// WellKnownHooks are the application lifecycle extension points seeded with
// empty handler lists at registry initialization. Plugins may register
// handlers for other names too; executing an unknown hook is not an error.
var WellKnownHooks = []string{
	"app:init",
	"app:shutdown",
	"config:load",
	"config:save",
	"config:parse",
	"config:serialize",
	"ui:render",
	"ui:theme",
	"ui:component:create",
	"validation:config",
	"export:config",
}

// hookEntry is one registered handler. seq preserves registration order so
// priority ties execute first-registered-first.
type hookEntry struct {
	plugin   string
	priority int
	seq      uint64
	fn       HookFunc
}

// hookTable maps hook names to handler lists kept sorted by descending
// priority. It is owned by a single registry and never locked itself; the
// registry serializes access.
type hookTable struct {
	entries map[string][]hookEntry
	nextSeq uint64
}

func newHookTable() *hookTable {
	t := &hookTable{entries: make(map[string][]hookEntry)}
	t.seed()
	return t
}

// seed ensures the well-known hooks exist with empty handler lists.
func (t *hookTable) seed() {
	for _, name := range WellKnownHooks {
		if _, ok := t.entries[name]; !ok {
			t.entries[name] = []hookEntry{}
		}
	}
}

// register inserts a handler and re-sorts that hook's list.
func (t *hookTable) register(hook, plugin string, priority int, fn HookFunc) {
	t.nextSeq++
	entries := append(t.entries[hook], hookEntry{
		plugin:   plugin,
		priority: priority,
		seq:      t.nextSeq,
		fn:       fn,
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	t.entries[hook] = entries
}

// snapshot returns a copy of the handler list for a hook, empty when the
// hook is unknown.
func (t *hookTable) snapshot(hook string) []hookEntry {
	return append([]hookEntry(nil), t.entries[hook]...)
}

// removePlugin drops every entry owned by the plugin, atomically per hook.
func (t *hookTable) removePlugin(plugin string) {
	for hook, entries := range t.entries {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.plugin != plugin {
				kept = append(kept, entry)
			}
		}
		t.entries[hook] = kept
	}
}

// counts returns the number of handlers per hook name.
func (t *hookTable) counts() map[string]int {
	counts := make(map[string]int, len(t.entries))
	for hook, entries := range t.entries {
		counts[hook] = len(entries)
	}
	return counts
}

// reset clears all handlers and re-seeds the well-known hooks.
func (t *hookTable) reset() {
	t.entries = make(map[string][]hookEntry)
	t.nextSeq = 0
	t.seed()
}
