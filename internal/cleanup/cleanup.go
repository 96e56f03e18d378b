// Package cleanup implements the Cleanup Orchestrator (spec §4.9): the
// deterministic shutdown sequence that quiesces the control plane, tears
// down plugins in reverse startup order, flushes and closes every Matter
// server node, and finally closes storage.
//
// The ordering mirrors api/cmd/main.go's graceful shutdown: stop serving
// new work first (srv.Shutdown), close connection fan-out next
// (wsManager.CloseAll), then close owned resources last-to-first
// (database.Close, redisCache.Close).
package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/controlplane"
	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/pluginmgr"
	"github.com/matterbridge-core/bridge/internal/registry"
	"github.com/matterbridge-core/bridge/internal/storage"
)

// ServerNode pairs a tracked server node's storage id with its engine
// handle, the unit the orchestrator closes.
type ServerNode struct {
	StoreID string
	Handle  matterengine.Handle
}

// NodeDeviceLister reports every device storage key actually attached to
// a server node. A device's owning plugin is not always the same string
// as the node it's attached to (bridge mode shares one node, "Matterbridge",
// across every plugin), so validateEndpointNumbering must ask this rather
// than assume the two coincide (spec §4.9).
type NodeDeviceLister interface {
	DeviceKeysForNode(storeID string) []string
}

// Orchestrator performs the shutdown sequence. It is constructed once
// every component is up, and PluginOrder/Nodes are populated as plugins
// start and server nodes come online.
type Orchestrator struct {
	log zerolog.Logger

	Hub        *controlplane.Hub
	Plugins    *pluginmgr.Manager
	Registry   *registry.Registry
	NodeDevices NodeDeviceLister
	Engine     *matterengine.Adapter
	Storage    *storage.Adapter

	// PluginOrder lists plugin names in the order they were started.
	// Shutdown tears them down in reverse.
	PluginOrder []string
	// Nodes lists every server node the Matter engine created, in
	// creation order. Shutdown closes them in reverse, matching
	// PluginOrder's teardown direction.
	Nodes []ServerNode
}

// New creates an Orchestrator wired to every subsystem it must quiesce.
// nodeDevices supplies the per-node device lookup validateEndpointNumbering
// needs; the Bridge Core implements it.
func New(log zerolog.Logger, hub *controlplane.Hub, plugins *pluginmgr.Manager, reg *registry.Registry, nodeDevices NodeDeviceLister, engine *matterengine.Adapter, st *storage.Adapter) *Orchestrator {
	return &Orchestrator{
		log:         log.With().Str("component", "cleanup").Logger(),
		Hub:         hub,
		Plugins:     plugins,
		Registry:    reg,
		NodeDevices: nodeDevices,
		Engine:      engine,
		Storage:     st,
	}
}

// TrackPluginStart appends name to the shutdown order; call this once a
// plugin finishes Configure, not when it is merely Added.
func (o *Orchestrator) TrackPluginStart(name string) {
	o.PluginOrder = append(o.PluginOrder, name)
}

// TrackNode appends a server node to the shutdown set; call this once the
// Bridge Core has started the node with the Matter engine.
func (o *Orchestrator) TrackNode(storeID string, handle matterengine.Handle) {
	o.Nodes = append(o.Nodes, ServerNode{StoreID: storeID, Handle: handle})
}

// Shutdown runs the deterministic teardown sequence (spec §4.9):
//
//  1. stop control-plane intake so no new requests arrive mid-teardown
//  2. shut down plugins in reverse start order, isolating failures
//  3. validate and close every tracked server node (flushes endpoint
//     numbering before closing)
//  4. close the Matter engine adapter's event queue, which ends the
//     Commissioning Supervisor's Run loop
//  5. close storage last, once nothing can still write to it
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.log.Info().Msg("cleanup orchestrator: shutdown starting")

	o.Hub.StopIntake()
	o.Hub.CloseAllSessions()

	for i := len(o.PluginOrder) - 1; i >= 0; i-- {
		name := o.PluginOrder[i]
		o.Plugins.Shutdown(ctx, name)
	}

	var errs []error
	for i := len(o.Nodes) - 1; i >= 0; i-- {
		node := o.Nodes[i]
		if err := o.validateEndpointNumbering(node.StoreID); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node.StoreID, err))
			continue
		}
		if err := o.Engine.Engine.Close(ctx, node.Handle); err != nil {
			errs = append(errs, fmt.Errorf("closing node %s: %w", node.StoreID, err))
		}
	}

	o.Engine.Close()

	if err := o.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}

	o.log.Info().Msg("cleanup orchestrator: shutdown complete")
	if len(errs) > 0 {
		return fmt.Errorf("cleanup encountered %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// validateEndpointNumbering enforces the invariant that every endpoint
// under a server node about to be closed has a durably persisted,
// non-zero Matter endpoint number; only the root endpoint (number 0,
// implicit and never stored in the registry) is exempt. Devices are
// looked up by the server node they're actually attached to, not by
// plugin name: in bridge mode many plugins' devices share one node.
func (o *Orchestrator) validateEndpointNumbering(storeID string) error {
	if o.NodeDevices == nil {
		return nil
	}
	for _, storageKey := range o.NodeDevices.DeviceKeysForNode(storeID) {
		dev, err := o.Registry.Get(storageKey)
		if err != nil {
			continue
		}
		if dev.Number == 0 {
			continue
		}
		if !dev.NumberPersisted {
			return fmt.Errorf("%w: device %q has endpoint number %d not yet persisted", model.ErrNotReady, dev.StorageKey, dev.Number)
		}
	}
	return nil
}
