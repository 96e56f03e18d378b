// Package pluginmgr implements the Plugin Manager (spec §4.4): platform
// lifecycle, type inference, and the global factory registry platforms
// use to register themselves at process startup, following the
// init()-registration pattern in api/internal/plugins/registry.go.
package pluginmgr

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Factory constructs a fresh Handler instance for one platform. Platforms
// register a Factory under their own name from an init() function, the
// same auto-registration convention the teacher's plugin packages use.
type Factory func() Handler

var (
	globalMu  sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds factory under name to the global registry. A duplicate
// name overwrites the previous registration and logs a warning, matching
// the teacher's hot-reload-tolerant policy.
func Register(name string, factory Factory) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if _, exists := factories[name]; exists {
		log.Warn().Str("plugin", name).Msg("plugin already registered, overwriting")
	}
	factories[name] = factory
}

// Lookup returns the factory registered under name, if any.
func Lookup(name string) (Factory, bool) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names returns every globally registered platform name.
func Names() []string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	return out
}
