package matterengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/matterbridge-core/bridge/internal/model"
)

// InMemoryEngine is a reference Engine implementation that keeps every
// primitive, fabric and session entirely in memory and never touches a
// real Matter network stack. It exists so the rest of the module (and
// cmd/matterbridge) can be wired and exercised end-to-end without a
// concrete third-party Matter SDK binding, which is out of scope for
// this module (see package doc on engine.go).
type InMemoryEngine struct {
	mu          sync.Mutex
	nodes       map[string]*memoryNode
	aggregators map[string]string // aggregator id -> parent node id
	post        func(Event) bool
}

type memoryNode struct {
	port, passcode, discriminator int
	children                      []Handle
	fabrics                       map[uint8]model.FabricRecord
	nextNumber                    uint32
}

// NewInMemoryEngine constructs an empty in-memory engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{
		nodes:       make(map[string]*memoryNode),
		aggregators: make(map[string]string),
	}
}

// SetPoster wires the engine to post lifecycle events onto an Adapter's
// queue (typically adapter.Post, called right after NewAdapter wraps this
// engine). Without it Start is a silent no-op and the event-driven
// commissioning flow (§4.2/§4.6) never fires.
func (e *InMemoryEngine) SetPoster(post func(Event) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.post = post
}

func (e *InMemoryEngine) CreateServerNode(ctx context.Context, storeID string, port, passcode, discriminator int) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[storeID] = &memoryNode{port: port, passcode: passcode, discriminator: discriminator, fabrics: make(map[uint8]model.FabricRecord)}
	return Handle{Kind: ParentServerNode, ID: storeID}, nil
}

func (e *InMemoryEngine) CreateAggregator(ctx context.Context, storeID string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aggregators[storeID] = ""
	return Handle{Kind: ParentAggregator, ID: storeID}, nil
}

func (e *InMemoryEngine) Add(ctx context.Context, parent, child Handle) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch parent.Kind {
	case ParentServerNode:
		node, ok := e.nodes[parent.ID]
		if !ok {
			return 0, fmt.Errorf("%w: server node %q", model.ErrNotReady, parent.ID)
		}
		node.children = append(node.children, child)
		if child.Kind == ParentAggregator {
			e.aggregators[child.ID] = parent.ID
			return 0, nil
		}
		node.nextNumber++
		return node.nextNumber, nil
	case ParentAggregator:
		parentNodeID, ok := e.aggregators[parent.ID]
		if !ok {
			return 0, fmt.Errorf("%w: aggregator %q", model.ErrNotReady, parent.ID)
		}
		node, ok := e.nodes[parentNodeID]
		if !ok {
			return 0, fmt.Errorf("%w: server node %q", model.ErrNotReady, parentNodeID)
		}
		node.nextNumber++
		return node.nextNumber, nil
	case ParentEndpoint:
		// Composed sub-endpoints of an already-placed device share their
		// parent's number space in this reference engine.
		return 0, nil
	}
	return 0, nil
}

// Start is idempotent and posts Online (and Commissioned, if the node
// already carries a fabric) to the wired poster, matching the contract
// documented on Engine.Start.
func (e *InMemoryEngine) Start(ctx context.Context, node Handle) error {
	e.mu.Lock()
	n, ok := e.nodes[node.ID]
	post := e.post
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: server node %q", model.ErrNotReady, node.ID)
	}
	if post == nil {
		return nil
	}

	post(Event{Kind: EventOnline, StoreID: node.ID})
	if len(n.fabrics) > 0 {
		post(Event{Kind: EventCommissioned, StoreID: node.ID})
	}
	return nil
}

func (e *InMemoryEngine) Close(ctx context.Context, node Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.nodes, node.ID)
	return nil
}

func (e *InMemoryEngine) StopAdvertising(ctx context.Context, node Handle) error { return nil }
func (e *InMemoryEngine) Advertise(ctx context.Context, node Handle) error       { return nil }

func (e *InMemoryEngine) PairingCodes(node Handle) (model.PairingCodes, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[node.ID]
	if !ok {
		return model.PairingCodes{}, fmt.Errorf("%w: server node %q", model.ErrNotFound, node.ID)
	}
	return model.PairingCodes{
		QR:     fmt.Sprintf("MT:%s-%d", node.ID, n.discriminator),
		Manual: fmt.Sprintf("%08d", n.passcode),
	}, nil
}

func (e *InMemoryEngine) RemoveFabric(ctx context.Context, node Handle, fabricIndex uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[node.ID]
	if !ok {
		return fmt.Errorf("%w: server node %q", model.ErrNotFound, node.ID)
	}
	delete(n.fabrics, fabricIndex)
	return nil
}

func (e *InMemoryEngine) FabricInformations(node Handle) ([]model.FabricRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[node.ID]
	if !ok {
		return nil, fmt.Errorf("%w: server node %q", model.ErrNotFound, node.ID)
	}
	out := make([]model.FabricRecord, 0, len(n.fabrics))
	for _, f := range n.fabrics {
		out = append(out, f)
	}
	return out, nil
}

func (e *InMemoryEngine) Sessions(node Handle) ([]model.SessionRecord, error) {
	return nil, nil
}

// Commission records fabric as present on node, as a real Matter engine's
// CASE/PASE handshake would. This reference engine has no commissioning
// protocol of its own, so tests and local experimentation call this
// directly to simulate the result of one.
func (e *InMemoryEngine) Commission(node Handle, fabric model.FabricRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[node.ID]
	if !ok {
		return fmt.Errorf("%w: server node %q", model.ErrNotFound, node.ID)
	}
	n.fabrics[fabric.FabricIndex] = fabric
	return nil
}
