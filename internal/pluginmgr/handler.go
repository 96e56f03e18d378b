package pluginmgr

import "context"

// Context is the platform-facing handle a Handler receives on every
// lifecycle hook; it exposes just enough of the bridge core for a
// platform to register devices and set attributes without reaching into
// bridge-core internals directly (spec §4.4, "platforms see only a
// narrow context object").
type Context struct {
	PluginName string
	Config     map[string]interface{}

	// RegisterDevice is supplied by the Plugin Manager at Load time. A
	// platform calls it once per accessory, or any number of times for a
	// dynamic platform.
	RegisterDevice func(storageKey string, composed bool) error
	// SetAttribute pushes a cluster attribute value into the Endpoint
	// Registry.
	SetAttribute func(storageKey, cluster, attribute string, value interface{}) error
}

// Handler is the interface every platform implements (spec §4.4 "Plugin
// lifecycle hooks"), modelled on the OnLoad/OnUnload/OnEnable/OnDisable
// shape of api/internal/plugins/base_plugin.go's PluginHandler, narrowed
// to the hooks this domain needs.
type Handler interface {
	// OnLoad performs one-time initialisation; returning an error leaves
	// the plugin in StageAdded with the sticky PluginError flag set.
	OnLoad(ctx context.Context, pctx *Context) error
	// OnStart begins device registration; called once per Start().
	OnStart(ctx context.Context, pctx *Context) error
	// OnConfigure is called after every device the platform intends to
	// register at startup has been registered.
	OnConfigure(ctx context.Context, pctx *Context) error
	// OnShutdown releases any resources held by the platform. Errors are
	// logged but never block the rest of the shutdown sequence.
	OnShutdown(ctx context.Context, pctx *Context) error
}

// Base provides no-op defaults so platforms only override the hooks they
// need, following the embeddable BasePlugin pattern in
// api/internal/plugins/base_plugin.go.
type Base struct{}

func (Base) OnLoad(ctx context.Context, pctx *Context) error      { return nil }
func (Base) OnStart(ctx context.Context, pctx *Context) error     { return nil }
func (Base) OnConfigure(ctx context.Context, pctx *Context) error { return nil }
func (Base) OnShutdown(ctx context.Context, pctx *Context) error  { return nil }
