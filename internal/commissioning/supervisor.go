// Package commissioning implements the Commissioning Supervisor (spec
// §4.6): the per-server-node advertising window state machine and the
// sanitised fabric/session tables rebuilt from Matter Engine events.
//
// The ticker-driven background loop with a stopCh shutdown signal follows
// api/internal/tracker/tracker.go's ConnectionTracker.Start/Stop pattern,
// generalised from idle-connection hibernation timing to commissioning
// window expiry timing.
package commissioning

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
)

// AdvertiseDuration is the sliding commissioning-window length (spec §4.6:
// "15-minute sliding advertise timer").
const AdvertiseDuration = 15 * time.Minute

// tickInterval is how often the supervisor checks for window expiry.
const tickInterval = 5 * time.Second

// EventSink is notified of commissioning-relevant transitions so the
// Control Plane can broadcast refresh_required (spec §6).
type EventSink interface {
	MatterChanged(storeID string)
}

// Supervisor owns the commissioning window, fabric table and session
// table for every server node registered with it.
type Supervisor struct {
	log    zerolog.Logger
	engine *matterengine.Adapter
	sink   EventSink

	mu      sync.Mutex
	nodes   map[string]*model.ServerNode
	handles map[string]matterengine.Handle

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Supervisor that consumes engine events from adapter.
func New(log zerolog.Logger, adapter *matterengine.Adapter, sink EventSink) *Supervisor {
	return &Supervisor{
		log:    log.With().Str("component", "commissioning").Logger(),
		engine: adapter,
		sink:   sink,
		nodes:   make(map[string]*model.ServerNode),
		handles: make(map[string]matterengine.Handle),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetSink installs (or replaces) the event sink. Exists so bridgecore.Core
// — constructed after the supervisor it depends on — can install itself
// as the sink without an import cycle between the two packages.
func (s *Supervisor) SetSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Track registers node and its engine handle with the supervisor so its
// window and tables are managed. Must be called before Run starts
// delivering events for it.
func (s *Supervisor) Track(node *model.ServerNode, handle matterengine.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.StoreID] = node
	s.handles[node.StoreID] = handle
}

// Untrack removes a server node's bookkeeping, used when a childbridge
// plugin is removed.
func (s *Supervisor) Untrack(storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, storeID)
	delete(s.handles, storeID)
}

// Node returns a snapshot of one tracked server node.
func (s *Supervisor) Node(storeID string) (*model.ServerNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[storeID]
	return n, ok
}

// Handle returns the engine handle tracked for storeID, so the control
// plane can turn a commissioning opcode's node id into the handle
// StartAdvertising/StopAdvertising/RemoveFabric need.
func (s *Supervisor) Handle(storeID string) (matterengine.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[storeID]
	return h, ok
}

// Run consumes engine events and drives the window-expiry ticker until
// Stop is called. Intended to run in its own goroutine.
func (s *Supervisor) Run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.engine.Events():
			if !ok {
				return
			}
			s.handle(ev)
		case <-ticker.C:
			s.checkExpiry()
		case <-s.stopCh:
			return
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Supervisor) handle(ev matterengine.Event) {
	s.mu.Lock()
	node, ok := s.nodes[ev.StoreID]
	if !ok {
		s.mu.Unlock()
		return
	}

	handle := s.handles[ev.StoreID]
	sink := s.sink
	needsAdvertise := false

	switch ev.Kind {
	case matterengine.EventOnline:
		node.IsOnline = true
		needsAdvertise = !node.IsCommissioned
	case matterengine.EventOffline:
		node.IsOnline = false
	case matterengine.EventCommissioned:
		node.IsCommissioned = true
		s.transition(node, model.StateCommissionedIdle)
	case matterengine.EventDecommissioned:
		node.IsCommissioned = false
		node.Fabrics = make(map[uint8]model.FabricRecord)
		node.Sessions = make(map[string]model.SessionRecord)
		s.transition(node, model.StateUncommissionedIdle)
	case matterengine.EventFabricsChanged:
		s.rebuildFabrics(node, handle)
	case matterengine.EventSession:
		s.rebuildSessions(node, handle)
	}
	s.mu.Unlock()

	// Online with no existing fabric opens the commissioning window
	// immediately rather than waiting for an explicit advertise request
	// (spec §4.6 rule 1): this is what makes pairing codes available
	// within seconds of boot.
	if needsAdvertise {
		if err := s.StartAdvertising(context.Background(), ev.StoreID, handle); err != nil {
			s.log.Warn().Err(err).Str("node", ev.StoreID).Msg("failed to open commissioning window on node online")
		}
	}

	if sink != nil {
		sink.MatterChanged(ev.StoreID)
	}
}

// transition moves node to newState, clearing or setting window timestamps
// as appropriate (spec §4.6 state machine).
func (s *Supervisor) transition(node *model.ServerNode, newState model.CommissioningState) {
	node.Window.State = newState
	if newState != model.StateAdvertising && newState != model.StateAdvertisingAfterCommissioned {
		node.Window.ExpiresAt = time.Time{}
	}
}

// StartAdvertising opens (or slides) the commissioning window for
// storeID. Calling it while already advertising resets the 15-minute
// timer rather than stacking windows (spec §4.6 "sliding timer").
func (s *Supervisor) StartAdvertising(ctx context.Context, storeID string, handle matterengine.Handle) error {
	s.mu.Lock()
	node, ok := s.nodes[storeID]
	s.mu.Unlock()
	if !ok {
		return errNodeNotTracked(storeID)
	}

	if err := s.engine.Engine.Advertise(ctx, handle); err != nil {
		return err
	}
	codes, err := s.engine.Engine.PairingCodes(handle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	now := time.Now()
	node.Window.OpenedAt = now
	node.Window.ExpiresAt = now.Add(AdvertiseDuration)
	node.Window.Codes = codes
	if node.IsCommissioned {
		node.Window.State = model.StateAdvertisingAfterCommissioned
	} else {
		node.Window.State = model.StateAdvertising
	}
	s.mu.Unlock()
	return nil
}

// StopAdvertising closes storeID's commissioning window immediately
// instead of waiting for its 15-minute timer to elapse (spec §4.6
// "stopCommission").
func (s *Supervisor) StopAdvertising(ctx context.Context, storeID string, handle matterengine.Handle) error {
	if err := s.engine.Engine.StopAdvertising(ctx, handle); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[storeID]
	if !ok {
		return errNodeNotTracked(storeID)
	}
	if node.IsCommissioned {
		s.transition(node, model.StateCommissionedIdle)
	} else {
		s.transition(node, model.StateUncommissionedIdle)
	}
	return nil
}

// checkExpiry closes any commissioning window whose 15-minute timer has
// elapsed (spec §4.6).
func (s *Supervisor) checkExpiry() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range s.nodes {
		if node.Window.State != model.StateAdvertising && node.Window.State != model.StateAdvertisingAfterCommissioned {
			continue
		}
		if now.Before(node.Window.ExpiresAt) {
			continue
		}
		if node.IsCommissioned {
			s.transition(node, model.StateCommissionedIdle)
		} else {
			s.transition(node, model.StateUncommissionedIdle)
		}
	}
}

// RemoveFabric asks the engine to remove fabricIndex from storeID and, on
// success, drops the local record. If the removed fabric was the last one
// the node reverts to uncommissioned-idle (spec §4.6 "decommission via
// last-fabric-removed").
func (s *Supervisor) RemoveFabric(ctx context.Context, storeID string, handle matterengine.Handle, fabricIndex uint8) error {
	if err := s.engine.Engine.RemoveFabric(ctx, handle, fabricIndex); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[storeID]
	if !ok {
		return nil
	}
	delete(node.Fabrics, fabricIndex)
	if len(node.Fabrics) == 0 {
		node.IsCommissioned = false
		s.transition(node, model.StateUncommissionedIdle)
	}
	return nil
}

// rebuildFabrics replaces node's fabric table wholesale from the engine's
// authoritative view rather than diffing incrementally (spec §4.2: "the
// engine is the source of truth"). Called with s.mu held.
func (s *Supervisor) rebuildFabrics(node *model.ServerNode, handle matterengine.Handle) {
	records, err := s.engine.Engine.FabricInformations(handle)
	if err != nil {
		s.log.Warn().Err(err).Str("node", node.StoreID).Msg("failed to refresh fabric table")
		return
	}
	fabrics := make(map[uint8]model.FabricRecord, len(records))
	for _, f := range records {
		fabrics[f.FabricIndex] = f
	}
	node.Fabrics = fabrics
	node.IsCommissioned = len(fabrics) > 0
}

// rebuildSessions replaces node's session table wholesale from the
// engine's authoritative view. Called with s.mu held.
func (s *Supervisor) rebuildSessions(node *model.ServerNode, handle matterengine.Handle) {
	records, err := s.engine.Engine.Sessions(handle)
	if err != nil {
		s.log.Warn().Err(err).Str("node", node.StoreID).Msg("failed to refresh session table")
		return
	}
	sessions := make(map[string]model.SessionRecord, len(records))
	for _, sess := range records {
		sessions[sess.Name] = sess
	}
	node.Sessions = sessions
}

func errNodeNotTracked(storeID string) error {
	return &notTrackedError{storeID: storeID}
}

type notTrackedError struct{ storeID string }

func (e *notTrackedError) Error() string {
	return "commissioning: server node not tracked: " + e.storeID
}
