package model

import "time"

// PlatformType classifies a plugin's device-composition shape (spec §3).
type PlatformType string

const (
	// AccessoryPlatform owns exactly one device.
	AccessoryPlatform PlatformType = "AccessoryPlatform"
	// DynamicPlatform owns an aggregator that may hold zero or more devices.
	DynamicPlatform PlatformType = "DynamicPlatform"
	// AnyPlatform is resolved to Accessory or Dynamic at first registration.
	AnyPlatform PlatformType = "AnyPlatform"
	// UnknownPlatform is used before any registration has occurred and the
	// manifest did not declare a type.
	UnknownPlatform PlatformType = "unknown"
)

// PluginStage is the lifecycle stage of a plugin record (spec §4.4).
type PluginStage string

const (
	StageAdded      PluginStage = "Added"
	StageLoaded     PluginStage = "Loaded"
	StageStarted    PluginStage = "Started"
	StageConfigured PluginStage = "Configured"
	StageShutdown   PluginStage = "Shutdown"
	StageRemoved    PluginStage = "Removed"
)

// Plugin is the identity and lifecycle record the Plugin Manager owns for
// each loaded platform (spec §3 "Plugin").
type Plugin struct {
	Name    string
	Version string
	Author  string
	Path    string

	Type    PlatformType
	Enabled bool

	Loaded    bool
	Started   bool
	Configured bool
	Paired    bool
	Connected bool
	Error     bool
	ErrorMsg  string

	RegisteredDevices int
	AddedDevices      int

	// ServerNodeID is the childbridge-mode server node owned by this
	// plugin. Empty in bridge mode, where the plugin shares the single
	// Matterbridge node.
	ServerNodeID string
	// AggregatorID is set when Type == DynamicPlatform and the plugin's
	// devices attach to a per-plugin aggregator (childbridge mode) or to
	// the shared matterbridge aggregator (bridge mode).
	AggregatorID string
	// DeviceKey is set when Type == AccessoryPlatform: the single device
	// this plugin owns.
	DeviceKey string

	Config map[string]interface{}
	Schema map[string]interface{}

	Stage     PluginStage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanRegisterMore reports whether the plugin may register another device
// given its current inferred type and how many it already holds (spec
// §4.4 "Type inference rule").
func (p *Plugin) CanRegisterMore() bool {
	if p.Type == AccessoryPlatform {
		return p.RegisteredDevices == 0
	}
	return true
}

// InferType resolves AnyPlatform into Accessory/Dynamic based on the first
// registered device's composition flag; an already resolved type is left
// unchanged. The AccessoryPlatform single-device rule is enforced by
// CanRegisterMore, not here.
func (p *Plugin) InferType(composed bool) {
	if p.Type != AnyPlatform && p.Type != UnknownPlatform {
		return
	}
	if composed {
		p.Type = DynamicPlatform
	} else {
		p.Type = AccessoryPlatform
	}
}

// MarkError sets the sticky error flag (spec §4.4: "Any transition may
// fail with PluginError which is sticky"). ClearError undoes it, used by
// enable/remove.
func (p *Plugin) MarkError(msg string) {
	p.Error = true
	p.ErrorMsg = msg
}

func (p *Plugin) ClearError() {
	p.Error = false
	p.ErrorMsg = ""
}
