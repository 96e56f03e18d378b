// Package registry implements the Endpoint Registry (spec §4.3): the
// single in-memory map of bridged devices, keyed by storage key within
// their owning plugin, with cross-plugin collisions rejected.
//
// The map/mutex shape follows the plugins.mux-guarded LoadedPlugin map in
// api/internal/plugins/runtime.go, generalised from one entry per plugin
// to one entry per device.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/model"
)

// EventSink receives cluster attribute changes so the control plane can
// broadcast refresh_required notifications (spec §4.3, §6).
type EventSink interface {
	DeviceChanged(pluginName, storageKey, cluster string)
}

// Registry is the single process-wide device table.
type Registry struct {
	log  zerolog.Logger
	sink EventSink

	mu      sync.RWMutex
	devices map[string]*model.Device // storageKey -> device
}

// New creates an empty registry. sink may be nil in tests.
func New(log zerolog.Logger, sink EventSink) *Registry {
	return &Registry{
		log:     log.With().Str("component", "registry").Logger(),
		sink:    sink,
		devices: make(map[string]*model.Device),
	}
}

// SetSink installs (or replaces) the event sink. Exists so bridgecore.Core
// — constructed after the registry it depends on — can install itself as
// the sink without an import cycle between the two packages.
func (r *Registry) SetSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Register adds dev to the registry. It fails with ErrDuplicateKey if
// another plugin has already registered the same storage key (spec §4.3
// invariant: "storage-key uniqueness is enforced within a plugin; cross-
// plugin collisions are rejected").
func (r *Registry) Register(dev *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[dev.StorageKey]; ok {
		if existing.Plugin != dev.Plugin {
			return fmt.Errorf("%w: storage key %q already owned by plugin %q", model.ErrDuplicateKey, dev.StorageKey, existing.Plugin)
		}
		return fmt.Errorf("%w: storage key %q already registered", model.ErrDuplicateKey, dev.StorageKey)
	}

	r.devices[dev.StorageKey] = dev
	r.log.Debug().Str("plugin", dev.Plugin).Str("key", dev.StorageKey).Msg("device registered")
	return nil
}

// Unregister removes a device by storage key. Unregistering an unknown
// key is a silent no-op (spec §4.3: "unregister is idempotent").
func (r *Registry) Unregister(storageKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, storageKey)
}

// Get returns the device for storageKey, or ErrNotFound.
func (r *Registry) Get(storageKey string) (*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[storageKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrNotFound, storageKey)
	}
	return dev, nil
}

// ByPlugin returns every device owned by pluginName, in no particular
// order.
func (r *Registry) ByPlugin(pluginName string) []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Device
	for _, dev := range r.devices {
		if dev.Plugin == pluginName {
			out = append(out, dev)
		}
	}
	return out
}

// All returns a snapshot of every registered device.
func (r *Registry) All() []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	return out
}

// SetAttribute records a cluster attribute value against a device and
// notifies the event sink so the control plane can broadcast a
// refresh_required for "devices" (spec §6).
func (r *Registry) SetAttribute(storageKey, cluster, attribute string, value interface{}) error {
	r.mu.Lock()
	dev, ok := r.devices[storageKey]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", model.ErrNotFound, storageKey)
	}
	if dev.Attributes == nil {
		dev.Attributes = make(map[string]map[string]interface{})
	}
	if dev.Attributes[cluster] == nil {
		dev.Attributes[cluster] = make(map[string]interface{})
	}
	dev.Attributes[cluster][attribute] = value
	plugin := dev.Plugin
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.DeviceChanged(plugin, storageKey, cluster)
	}
	return nil
}

// GetAttribute reads a previously recorded cluster attribute value.
func (r *Registry) GetAttribute(storageKey, cluster, attribute string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[storageKey]
	if !ok {
		return nil, false
	}
	attrs, ok := dev.Attributes[cluster]
	if !ok {
		return nil, false
	}
	v, ok := attrs[attribute]
	return v, ok
}

// HasCluster reports whether storageKey's device has ever recorded a
// value for cluster.
func (r *Registry) HasCluster(storageKey, cluster string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[storageKey]
	if !ok {
		return false
	}
	return dev.HasCluster(cluster)
}

// Count returns the number of devices currently owned by pluginName. The
// Plugin Manager does not use it for the AccessoryPlatform single-device
// rule; that rule is checked against model.Plugin.RegisteredDevices.
func (r *Registry) Count(pluginName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, dev := range r.devices {
		if dev.Plugin == pluginName {
			n++
		}
	}
	return n
}

// AssignNumber stores the Matter engine's assigned endpoint number for a
// device, marking it persisted once the engine confirms the write (spec
// §4.9 cleanup invariant).
func (r *Registry) AssignNumber(storageKey string, number uint32, persisted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[storageKey]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrNotFound, storageKey)
	}
	dev.Number = number
	dev.NumberPersisted = persisted
	return nil
}
