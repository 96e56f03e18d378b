package pluginmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/registry"
)

// entry is the Plugin Manager's per-plugin bookkeeping, generalising the
// pluginsMux-guarded map[string]*LoadedPlugin in
// api/internal/plugins/runtime.go from one entry per session-hosting
// plugin to one entry per Matter platform.
type entry struct {
	plugin  *model.Plugin
	handler Handler
}

// PlacementHook is notified whenever a device is successfully registered
// so the Bridge Core can attach it to the right Matter engine primitive
// (spec §4.5 placement rules). Optional; nil in tests that don't need
// engine placement.
type PlacementHook func(pluginName, storageKey string, composed bool)

// Manager owns every loaded platform's lifecycle (spec §4.4).
type Manager struct {
	log       *zerolog.Logger
	reg       *registry.Registry
	placement PlacementHook
	spawner   Spawner

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a Plugin Manager that registers platforms' devices in reg.
// Device counts and AccessoryPlatform enforcement use each plugin
// record's own counters.
func New(log zerolog.Logger, reg *registry.Registry) *Manager {
	l := log.With().Str("component", "pluginmgr").Logger()
	return &Manager{
		log:     &l,
		reg:     reg,
		entries: make(map[string]*entry),
	}
}

// SetPlacementHook installs the Bridge Core's device-placement callback.
func (m *Manager) SetPlacementHook(hook PlacementHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placement = hook
}

// SetSpawner installs the external package-tool spawn seam that
// Install/Uninstall delegate to. Without one both fail with
// ErrPluginError.
func (m *Manager) SetSpawner(spawner Spawner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawner = spawner
}

// Install delegates to the configured Spawner to install pkg, streaming
// each line of the tool's output to progress as it runs (spec §4.4:
// "reporting streamed output back on the control plane as broadcast
// progress").
func (m *Manager) Install(ctx context.Context, pkg string, progress func(string)) error {
	m.mu.RLock()
	spawner := m.spawner
	m.mu.RUnlock()
	if spawner == nil {
		return fmt.Errorf("%w: no package spawner configured", model.ErrPluginError)
	}
	if err := spawner.Spawn(ctx, []string{"install", pkg}, progress); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPluginError, err)
	}
	return nil
}

// Uninstall delegates to the configured Spawner to remove pkg, the
// reverse of Install (spec §4.4).
func (m *Manager) Uninstall(ctx context.Context, pkg string, progress func(string)) error {
	m.mu.RLock()
	spawner := m.spawner
	m.mu.RUnlock()
	if spawner == nil {
		return fmt.Errorf("%w: no package spawner configured", model.ErrPluginError)
	}
	if err := spawner.Spawn(ctx, []string{"uninstall", pkg}, progress); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPluginError, err)
	}
	return nil
}

// Add creates a plugin record in StageAdded from a globally registered
// factory. It does not invoke any lifecycle hook (spec §4.4: "Added is a
// pure bookkeeping stage").
func (m *Manager) Add(name string, declaredType model.PlatformType, config map[string]interface{}) error {
	factory, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: no platform registered under %q", model.ErrNotFound, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[name]; exists {
		return fmt.Errorf("%w: plugin %q already added", model.ErrDuplicateKey, name)
	}

	now := time.Now()
	m.entries[name] = &entry{
		plugin: &model.Plugin{
			Name:      name,
			Type:      declaredType,
			Enabled:   true,
			Config:    config,
			Stage:     model.StageAdded,
			CreatedAt: now,
			UpdatedAt: now,
		},
		handler: factory(),
	}
	return nil
}

// Get returns a snapshot accessor for one plugin.
func (m *Manager) Get(name string) (*model.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	return e.plugin, nil
}

// List returns a snapshot of every plugin record, for the control
// plane's get_plugins / get_qrcode-adjacent handlers.
func (m *Manager) List() []*model.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Plugin, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.plugin)
	}
	return out
}

func (m *Manager) touch(p *model.Plugin) { p.UpdatedAt = time.Now() }

// Load advances name from Added to Loaded, invoking OnLoad. A failing
// OnLoad sets the sticky PluginError flag but leaves the plugin in
// StageAdded so a retry via Load is possible (spec §4.4).
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}

	pctx := m.pluginContext(e)
	if err := e.handler.OnLoad(ctx, pctx); err != nil {
		e.plugin.MarkError(err.Error())
		m.touch(e.plugin)
		return fmt.Errorf("%w: %v", model.ErrPluginError, err)
	}

	e.plugin.ClearError()
	e.plugin.Loaded = true
	e.plugin.Stage = model.StageLoaded
	m.touch(e.plugin)
	return nil
}

// Start advances name from Loaded to Started, invoking OnStart. Platforms
// call RegisterDevice from within OnStart (and may continue to call it
// later for dynamic platforms).
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	if !e.plugin.Loaded {
		return fmt.Errorf("%w: plugin %q not loaded", model.ErrNotReady, name)
	}

	pctx := m.pluginContext(e)
	if err := e.handler.OnStart(ctx, pctx); err != nil {
		e.plugin.MarkError(err.Error())
		m.touch(e.plugin)
		return fmt.Errorf("%w: %v", model.ErrPluginError, err)
	}

	e.plugin.ClearError()
	e.plugin.Started = true
	e.plugin.Stage = model.StageStarted
	m.touch(e.plugin)
	return nil
}

// Configure advances name from Started to Configured, invoking
// OnConfigure once the platform's startup device set is registered.
func (m *Manager) Configure(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	if !e.plugin.Started {
		return fmt.Errorf("%w: plugin %q not started", model.ErrNotReady, name)
	}

	pctx := m.pluginContext(e)
	if err := e.handler.OnConfigure(ctx, pctx); err != nil {
		e.plugin.MarkError(err.Error())
		m.touch(e.plugin)
		return fmt.Errorf("%w: %v", model.ErrPluginError, err)
	}

	e.plugin.ClearError()
	e.plugin.Configured = true
	e.plugin.Stage = model.StageConfigured
	m.touch(e.plugin)
	return nil
}

// Shutdown invokes OnShutdown and moves name to StageShutdown. Errors are
// logged and swallowed: shutdown is best-effort, matching the teacher's
// "unload errors are logged but unload continues" policy.
func (m *Manager) Shutdown(ctx context.Context, name string) {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	pctx := m.pluginContext(e)
	if err := e.handler.OnShutdown(ctx, pctx); err != nil {
		m.log.Warn().Err(err).Str("plugin", name).Msg("plugin shutdown hook returned error")
	}
	e.plugin.Stage = model.StageShutdown
	m.touch(e.plugin)
}

// Remove deletes a shut-down plugin's bookkeeping entirely.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	e.plugin.Stage = model.StageRemoved
	delete(m.entries, name)
	return nil
}

// Enable clears a sticky PluginError and marks the plugin enabled again.
func (m *Manager) Enable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	e.plugin.Enabled = true
	e.plugin.ClearError()
	m.touch(e.plugin)
	return nil
}

// Disable marks a plugin disabled without tearing down its lifecycle
// stage; it stops receiving new device registrations.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	e.plugin.Enabled = false
	m.touch(e.plugin)
	return nil
}

// registerDevice implements the RegisterDevice callback handed to
// platforms through Context: it enforces the AccessoryPlatform
// single-device rule and resolves AnyPlatform on first call (spec §4.4
// "Type inference rule").
func (m *Manager) registerDevice(name string, storageKey string, composed bool) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: plugin %q", model.ErrNotFound, name)
	}
	if !e.plugin.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("%w: plugin %q is disabled", model.ErrNotReady, name)
	}

	e.plugin.InferType(composed)
	if !e.plugin.CanRegisterMore() {
		m.mu.Unlock()
		return fmt.Errorf("%w: plugin %q", model.ErrTooManyDevices, name)
	}

	dev := &model.Device{StorageKey: storageKey, Plugin: name, Composed: composed}
	m.mu.Unlock()

	if err := m.reg.Register(dev); err != nil {
		return err
	}

	m.mu.Lock()
	e.plugin.RegisteredDevices++
	e.plugin.AddedDevices++
	m.touch(e.plugin)
	hook := m.placement
	m.mu.Unlock()

	if hook != nil {
		hook(name, storageKey, composed)
	}
	return nil
}

func (m *Manager) pluginContext(e *entry) *Context {
	name := e.plugin.Name
	return &Context{
		PluginName: name,
		Config:     e.plugin.Config,
		RegisterDevice: func(storageKey string, composed bool) error {
			return m.registerDevice(name, storageKey, composed)
		},
		SetAttribute: m.reg.SetAttribute,
	}
}
