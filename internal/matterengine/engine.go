// Package matterengine wraps the third-party Matter protocol engine
// behind the narrow seam described in spec §4.2. The engine itself
// (mDNS, CASE/PASE, cluster codecs) is out of scope for this module; this
// package only defines the primitives the bridge core needs and an event
// pump that turns engine callbacks into typed events on a bounded queue,
// grounded on the register/unregister/broadcast channel loop in
// api/internal/websocket/agent_hub.go and the typed event structs in
// docker-controller/pkg/events/types.go.
package matterengine

import (
	"context"
	"sync"

	"github.com/matterbridge-core/bridge/internal/model"
)

// ParentKind identifies what kind of primitive an endpoint was attached
// under.
type ParentKind int

const (
	ParentServerNode ParentKind = iota
	ParentAggregator
	ParentEndpoint
)

// Handle is an opaque reference to an engine-side primitive (server node,
// aggregator or endpoint). The adapter never interprets the value; it is
// whatever the concrete engine implementation returns from Create calls.
type Handle struct {
	Kind ParentKind
	ID   string
}

// FabricAction enumerates how a fabric entry changed (spec §4.2).
type FabricAction string

const (
	FabricAdded   FabricAction = "Added"
	FabricRemoved FabricAction = "Removed"
	FabricUpdated FabricAction = "Updated"
)

// SessionAction enumerates session lifecycle transitions (spec §4.2).
type SessionAction string

const (
	SessionOpened             SessionAction = "opened"
	SessionClosed             SessionAction = "closed"
	SessionSubsChanged        SessionAction = "subscriptionsChanged"
)

// EventKind tags the variant of an Event (spec §9 "tagged events on a
// bounded queue").
type EventKind int

const (
	EventOnline EventKind = iota
	EventOffline
	EventCommissioned
	EventDecommissioned
	EventFabricsChanged
	EventSession
)

// Event is one engine lifecycle notification for a single server node.
// Events for a given node are delivered in arrival order (spec §4.2).
type Event struct {
	Kind     EventKind
	StoreID  string
	// FabricIndex/FabricAct are set when Kind == EventFabricsChanged.
	FabricIndex uint8
	FabricAct   FabricAction
	// SessionName/SessionAct are set when Kind == EventSession.
	SessionName string
	SessionAct  SessionAction
}

// Engine is the seam over the third-party Matter protocol engine that
// this module depends on. A real implementation adapts a concrete SDK;
// tests and the bridge core depend only on this interface.
type Engine interface {
	CreateServerNode(ctx context.Context, storeID string, port, passcode, discriminator int) (Handle, error)
	CreateAggregator(ctx context.Context, storeID string) (Handle, error)
	// Add attaches child under parent. parent must be ParentServerNode,
	// ParentAggregator or ParentEndpoint; fails with ErrNotReady if the
	// parent has not yet been installed. When child is a device endpoint
	// the returned number is the Matter endpoint number the engine
	// assigned it, for the caller to persist via registry.AssignNumber
	// (spec §4.9); attaching an aggregator returns 0.
	Add(ctx context.Context, parent, child Handle) (uint32, error)
	// Start is idempotent; it arranges for Online/Commissioned events to
	// be posted to the adapter's queue once the node is listening.
	Start(ctx context.Context, node Handle) error
	// Close flushes endpoint-number persistence for node, then returns.
	Close(ctx context.Context, node Handle) error
	StopAdvertising(ctx context.Context, node Handle) error
	Advertise(ctx context.Context, node Handle) error
	PairingCodes(node Handle) (model.PairingCodes, error)
	RemoveFabric(ctx context.Context, node Handle, fabricIndex uint8) error
	// FabricInformations and Sessions return the engine's current,
	// authoritative tables for node; the Commissioning Supervisor
	// rebuilds its sanitised view from these rather than diffing.
	FabricInformations(node Handle) ([]model.FabricRecord, error)
	Sessions(node Handle) ([]model.SessionRecord, error)
}

// Adapter posts engine callbacks onto a bounded per-process queue so the
// engine's own callback thread is never blocked (spec §4.2 invariant).
// Consumers (the Commissioning Supervisor) call Events() and range over
// the returned channel.
type Adapter struct {
	Engine Engine

	mu     sync.Mutex
	events chan Event
}

// DefaultQueueSize bounds the adapter's internal event queue. Chosen to
// absorb a burst of fabric/session churn across all nodes without
// unbounded growth.
const DefaultQueueSize = 256

// NewAdapter wraps engine with a bounded event queue.
func NewAdapter(engine Engine) *Adapter {
	return &Adapter{
		Engine: engine,
		events: make(chan Event, DefaultQueueSize),
	}
}

// Events returns the channel the Commissioning Supervisor consumes.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Post enqueues an event from the engine's callback. It never blocks: if
// the queue is full the new event is dropped without logging, and the
// false return value lets callers count drops.
func (a *Adapter) Post(ev Event) (delivered bool) {
	select {
	case a.events <- ev:
		return true
	default:
		return false
	}
}

// Close releases the adapter's event channel. Safe to call once.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.events:
	default:
	}
	close(a.events)
}
