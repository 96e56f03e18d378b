// Package bridgecore implements the Bridge Core (spec §4.5): the
// top-level coordinator that decides bridge-vs-childbridge device
// placement, starts every subsystem in dependency order, and isolates
// per-plugin failures so one misbehaving platform cannot take down the
// process.
//
// Startup/shutdown ordering and the "log each stage, defer its teardown"
// structure follow api/cmd/main.go's main(); per-plugin isolation uses
// golang.org/x/sync/errgroup the way a fan-out of independent,
// failure-isolated subsystems is commonly wired in Go services.
package bridgecore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/matterbridge-core/bridge/internal/commissioning"
	"github.com/matterbridge-core/bridge/internal/controlplane"
	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/pluginmgr"
	"github.com/matterbridge-core/bridge/internal/registry"
	"github.com/matterbridge-core/bridge/internal/resmonitor"
	"github.com/matterbridge-core/bridge/internal/storage"
)

// matterbridgeStoreID is the shared server node's identity in bridge
// mode (spec §3 "Server Node").
const matterbridgeStoreID = "Matterbridge"

// Core wires every component together and owns the bridge-vs-childbridge
// device placement policy.
type Core struct {
	cfg Config
	log zerolog.Logger

	Storage      *storage.Adapter
	Registry     *registry.Registry
	Plugins      *pluginmgr.Manager
	Engine       *matterengine.Adapter
	Commissioner *commissioning.Supervisor
	ControlPlane *controlplane.Hub
	Resources    *resmonitor.Monitor

	// mu guards every field below: placeDevice/resolveParent run
	// concurrently across plugins during startPlugins' errgroup fan-out
	// in childbridge mode.
	mu sync.Mutex

	// nodeOf tracks, in childbridge mode, the engine handle for the Matter
	// primitive that owns each plugin's devices: a per-plugin aggregator
	// or server node (spec §4.5 placement rules). It stays empty in bridge
	// mode, where resolveParent uses matterbridgeAgg directly.
	nodeOf map[string]matterengine.Handle

	// deviceNode tracks which server node (by StoreID) a placed device's
	// storage key is actually attached to, so cleanup can validate
	// endpoint numbering per node instead of assuming it coincides with
	// plugin name (spec §4.9).
	deviceNode map[string]string

	matterbridgeNode *model.ServerNode
	matterbridgeAgg  matterengine.Handle

	nodes []TrackedNode
}

// TrackedNode pairs a server node's storage id with its engine handle, the
// shape the Cleanup Orchestrator needs to close every node on shutdown.
type TrackedNode struct {
	StoreID string
	Handle  matterengine.Handle
}

// Nodes returns every server node the core has created so far, in
// creation order, for the Cleanup Orchestrator to track.
func (c *Core) Nodes() []TrackedNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackedNode, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// DeviceKeysForNode implements cleanup.NodeDeviceLister: it returns every
// storage key actually attached to storeID's server node, regardless of
// which plugin owns the device (spec §4.9). In bridge mode many plugins'
// devices share the single Matterbridge node.
func (c *Core) DeviceKeysForNode(storeID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for key, node := range c.deviceNode {
		if node == storeID {
			keys = append(keys, key)
		}
	}
	return keys
}

// DeviceChanged implements registry.EventSink: a cluster attribute
// changed on a registered device, so frontends need to refetch devices
// (spec §6).
func (c *Core) DeviceChanged(pluginName, storageKey, cluster string) {
	c.ControlPlane.BroadcastRefresh(model.ChangedDevices)
}

// MatterChanged implements commissioning.EventSink: a server node's
// commissioning window, fabric table or session table changed, so
// frontends need to refetch Matter state (spec §6).
func (c *Core) MatterChanged(storeID string) {
	c.ControlPlane.BroadcastRefresh(model.ChangedMatter)
}

// New assembles a Core from already-constructed subsystem instances. The
// caller (cmd/matterbridge) owns their construction so it can fail fast
// on configuration errors (e.g. unwritable storage directory) before any
// goroutine is started.
func New(cfg Config, log zerolog.Logger, st *storage.Adapter, reg *registry.Registry, plugins *pluginmgr.Manager, engine *matterengine.Adapter, commissioner *commissioning.Supervisor, cp *controlplane.Hub, res *resmonitor.Monitor) *Core {
	c := &Core{
		cfg:          cfg,
		log:          log.With().Str("component", "bridgecore").Logger(),
		Storage:      st,
		Registry:     reg,
		Plugins:      plugins,
		Engine:       engine,
		Commissioner: commissioner,
		ControlPlane: cp,
		Resources:    res,
		nodeOf:       make(map[string]matterengine.Handle),
		deviceNode:   make(map[string]string),
	}
	plugins.SetPlacementHook(c.placeDevice)
	reg.SetSink(c)
	commissioner.SetSink(c)
	return c
}

// Start brings up the shared Matter primitives for bridge mode (spec
// §4.5: "bridge mode: single shared Matter server node + aggregator").
// Childbridge mode creates each plugin's node lazily in placeDevice
// instead, since the node identity depends on which plugin is placing
// its first device.
func (c *Core) Start(ctx context.Context) error {
	c.log.Info().Str("mode", string(c.cfg.Mode)).Msg("starting bridge core")

	if c.cfg.Mode == ModeBridge {
		node := model.NewServerNode(matterbridgeStoreID, c.cfg.FrontendPort, c.cfg.Passcode, c.cfg.Discriminator)
		handle, err := c.Engine.Engine.CreateServerNode(ctx, matterbridgeStoreID, node.Port, node.Passcode, node.Discriminator)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrPortInUse, err)
		}
		agg, err := c.Engine.Engine.CreateAggregator(ctx, matterbridgeStoreID)
		if err != nil {
			return err
		}
		if _, err := c.Engine.Engine.Add(ctx, handle, agg); err != nil {
			return err
		}
		if err := c.Engine.Engine.Start(ctx, handle); err != nil {
			return err
		}

		c.mu.Lock()
		c.matterbridgeNode = node
		c.matterbridgeAgg = agg
		c.nodes = append(c.nodes, TrackedNode{StoreID: matterbridgeStoreID, Handle: handle})
		c.mu.Unlock()
		c.Commissioner.Track(node, handle)
		c.log.Info().Msg("bridge_started")
	}

	return c.startPlugins(ctx)
}

// startPlugins loads, starts and configures every added plugin,
// isolating failures with an errgroup so one plugin's error doesn't
// prevent the others from starting (spec §4.5 "per-plugin failure
// isolation").
func (c *Core) startPlugins(ctx context.Context) error {
	names := make([]string, 0)
	for _, p := range c.Plugins.List() {
		if p.Enabled {
			names = append(names, p.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := c.Plugins.Load(gctx, name); err != nil {
				c.log.Warn().Err(err).Str("plugin", name).Msg("plugin failed to load, isolated")
				return nil
			}
			if err := c.Plugins.Start(gctx, name); err != nil {
				c.log.Warn().Err(err).Str("plugin", name).Msg("plugin failed to start, isolated")
				return nil
			}
			if err := c.Plugins.Configure(gctx, name); err != nil {
				c.log.Warn().Err(err).Str("plugin", name).Msg("plugin failed to configure, isolated")
				return nil
			}
			return nil
		})
	}
	return g.Wait()
}

// placeDevice implements the device placement table from spec §4.5:
//
//	bridge    + ModeDefault -> shared Matterbridge aggregator
//	bridge    + ModeMatter  -> directly under the Matterbridge server node
//	childbridge + DynamicPlatform  -> the plugin's own aggregator
//	childbridge + AccessoryPlatform -> the plugin's own server node directly
func (c *Core) placeDevice(pluginName, storageKey string, composed bool) {
	dev, err := c.Registry.Get(storageKey)
	if err != nil {
		c.log.Warn().Err(err).Str("key", storageKey).Msg("placement requested for unknown device")
		return
	}

	ctx := context.Background()
	parent, err := c.resolveParent(ctx, pluginName, dev)
	if err != nil {
		c.log.Error().Err(err).Str("plugin", pluginName).Str("key", storageKey).Msg("failed to resolve placement parent")
		return
	}

	child := matterengine.Handle{Kind: matterengine.ParentEndpoint, ID: storageKey}
	number, err := c.Engine.Engine.Add(ctx, parent, child)
	if err != nil {
		c.log.Error().Err(err).Str("plugin", pluginName).Str("key", storageKey).Msg("failed to attach device to engine")
		return
	}

	// In bridge mode every device ends up under the single Matterbridge
	// node regardless of which plugin owns it; in childbridge mode each
	// plugin owns its own node, named after the plugin (spec §4.5).
	storeID := matterbridgeStoreID
	if c.cfg.Mode != ModeBridge {
		storeID = pluginName
	}
	c.mu.Lock()
	c.deviceNode[storageKey] = storeID
	c.mu.Unlock()

	if err := c.Registry.AssignNumber(storageKey, number, true); err != nil {
		c.log.Error().Err(err).Str("plugin", pluginName).Str("key", storageKey).Msg("failed to persist assigned endpoint number")
	}
}

func (c *Core) resolveParent(ctx context.Context, pluginName string, dev *model.Device) (matterengine.Handle, error) {
	if c.cfg.Mode == ModeBridge {
		if dev.Mode == model.ModeMatter {
			return matterengine.Handle{Kind: matterengine.ParentServerNode, ID: matterbridgeStoreID}, nil
		}
		return c.matterbridgeAgg, nil
	}

	// Childbridge mode: lazily create the plugin's own server node on
	// first device placement.
	c.mu.Lock()
	handle, ok := c.nodeOf[pluginName]
	c.mu.Unlock()
	if ok {
		return handle, nil
	}

	storeID := pluginName
	node := model.NewServerNode(storeID, 0, c.cfg.Passcode, c.cfg.Discriminator)
	serverHandle, err := c.Engine.Engine.CreateServerNode(ctx, storeID, node.Port, node.Passcode, node.Discriminator)
	if err != nil {
		return matterengine.Handle{}, err
	}

	plugin, err := c.Plugins.Get(pluginName)
	if err != nil {
		return matterengine.Handle{}, err
	}

	var attachPoint matterengine.Handle
	if plugin.Type == model.DynamicPlatform {
		agg, err := c.Engine.Engine.CreateAggregator(ctx, storeID)
		if err != nil {
			return matterengine.Handle{}, err
		}
		if _, err := c.Engine.Engine.Add(ctx, serverHandle, agg); err != nil {
			return matterengine.Handle{}, err
		}
		attachPoint = agg
	} else {
		attachPoint = serverHandle
	}

	if err := c.Engine.Engine.Start(ctx, serverHandle); err != nil {
		return matterengine.Handle{}, err
	}

	c.mu.Lock()
	c.nodeOf[pluginName] = attachPoint
	c.nodes = append(c.nodes, TrackedNode{StoreID: storeID, Handle: serverHandle})
	c.mu.Unlock()
	c.Commissioner.Track(node, serverHandle)
	c.log.Info().Str("plugin", pluginName).Msg("childbridge_started")
	return attachPoint, nil
}
