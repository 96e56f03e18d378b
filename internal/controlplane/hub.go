// Package controlplane implements the Control Plane (spec §4.7): the
// websocket-based request/response and broadcast channel between the
// bridge core and its frontends.
//
// The register/unregister/broadcast channel loop follows
// api/internal/websocket/hub.go's Hub.Run, and the per-connection
// send-buffer-full slow-client handling follows the same file's
// Broadcast/BroadcastToOrg; request/response id correlation and the
// stale-connection ticker are grounded on agent_hub.go's
// checkStaleConnections and SendCommandToAgent.
package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/model"
)

// DefaultRequestTimeout bounds how long SendRequest waits for a
// correlated response before returning ErrTimeout (spec §4.7).
const DefaultRequestTimeout = 30 * time.Second

// BroadcastQueueSize bounds each session's pending-broadcast backlog.
// Once full, the oldest queued broadcast is dropped to admit the newest
// (spec §4.7 "drop-oldest-broadcast backpressure; targeted responses are
// never dropped").
const BroadcastQueueSize = 64

// Dispatcher handles one recognized opcode and returns the response
// payload (or an error, turned into an error envelope).
type Dispatcher func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error)

// Hub is the control-plane's connection and routing manager.
type Hub struct {
	log zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	pendingMu sync.Mutex
	pending   map[string]chan model.Message

	handlers map[string]Dispatcher

	sharedPassword string

	closed bool
}

// New creates an empty Hub. sharedPassword, if non-empty, gates every
// new session behind an auth handshake (spec §4.7 "auth gate").
func New(log zerolog.Logger, sharedPassword string) *Hub {
	return &Hub{
		log:            log.With().Str("component", "controlplane").Logger(),
		sessions:       make(map[string]*Session),
		pending:        make(map[string]chan model.Message),
		handlers:       make(map[string]Dispatcher),
		sharedPassword: sharedPassword,
	}
}

// Handle registers the dispatcher for a recognized opcode (spec §4.7).
func (h *Hub) Handle(method string, d Dispatcher) {
	h.handlers[method] = d
}

// Register adds a newly connected session. Returns ErrUnauthorized if the
// hub requires a shared password and the session did not present one.
func (h *Hub) Register(sess *Session) error {
	if h.sharedPassword != "" && sess.password != h.sharedPassword {
		return model.ErrUnauthorized
	}
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()
	h.log.Debug().Str("session", sess.ID).Msg("control-plane session registered")
	return nil
}

// Unregister removes a session. SendRequest calls still waiting on a
// response from it are not released; they end at their timeout or when
// their context is cancelled.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// StopIntake stops accepting new requests: Dispatch replies with
// ErrNotReady for every subsequent call instead of routing to a handler.
// Used by the cleanup orchestrator to quiesce the control plane before
// tearing down plugins (spec §4.9, first shutdown stage).
func (h *Hub) StopIntake() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// CloseAllSessions closes every connected session's websocket connection,
// following api/internal/websocket/hub.go's CloseAll shutdown helper.
func (h *Hub) CloseAllSessions() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Dispatch routes an inbound envelope to its registered handler, replying
// on the originating session (targeted, never dropped) and correlating
// pending SendRequest waiters by id.
func (h *Hub) Dispatch(ctx context.Context, sess *Session, msg model.Message) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		h.replyError(sess, msg, model.ErrNotReady.Error())
		return
	}

	if msg.Response != nil || msg.Error != "" {
		h.resolvePending(msg)
		return
	}

	handler, ok := h.handlers[msg.Method]
	if !ok {
		h.replyError(sess, msg, model.ErrUnknownMethod.Error())
		return
	}

	resp, err := handler(ctx, sess, msg)
	if err != nil {
		h.replyError(sess, msg, err.Error())
		return
	}

	reply := model.Message{ID: msg.ID, Sender: string(model.EndpointMatterbridge), Method: msg.Method, Src: model.EndpointMatterbridge, Dst: msg.Src, Response: resp}
	sess.SendTargeted(reply)
}

func (h *Hub) replyError(sess *Session, msg model.Message, errMsg string) {
	reply := model.Message{ID: msg.ID, Sender: string(model.EndpointMatterbridge), Method: msg.Method, Src: model.EndpointMatterbridge, Dst: msg.Src, Error: errMsg}
	sess.SendTargeted(reply)
}

// resolvePending delivers a correlated response to whatever SendRequest
// call is waiting on msg.ID.
func (h *Hub) resolvePending(msg model.Message) {
	key := fmt.Sprintf("%v", msg.ID)
	h.pendingMu.Lock()
	ch, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

// SendRequest sends a targeted request to dst and blocks for a correlated
// response, or returns ErrTimeout after DefaultRequestTimeout (spec
// §4.7). Broadcast methods should use Broadcast instead.
func (h *Hub) SendRequest(ctx context.Context, sess *Session, method string, dst model.Endpoint, params map[string]interface{}) (map[string]interface{}, error) {
	return h.sendRequestWithTimeout(ctx, sess, method, dst, params, DefaultRequestTimeout)
}

// sendRequestWithTimeout is SendRequest with an explicit timeout,
// exercised directly by tests so they don't have to wait out the full
// default window.
func (h *Hub) sendRequestWithTimeout(ctx context.Context, sess *Session, method string, dst model.Endpoint, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	id := uuid.NewString()
	key := id

	ch := make(chan model.Message, 1)
	h.pendingMu.Lock()
	h.pending[key] = ch
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, key)
		h.pendingMu.Unlock()
	}()

	msg := model.Message{ID: id, Sender: string(model.EndpointMatterbridge), Method: method, Src: model.EndpointMatterbridge, Dst: dst, Params: params}
	sess.SendTargeted(msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", model.ErrEngineError, resp.Error)
		}
		return resp.Response, nil
	case <-timer.C:
		return nil, model.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast fans a message out to every connected session's bounded
// broadcast queue, dropping the oldest queued broadcast for a session
// whose queue is full rather than blocking the hub (spec §4.7).
func (h *Hub) Broadcast(msg model.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.sessions {
		sess.EnqueueBroadcast(msg)
	}
}

// BroadcastRefresh is a convenience for the common "refresh_required"
// notification shape (spec §6).
func (h *Hub) BroadcastRefresh(changed model.RefreshChanged) {
	h.Broadcast(model.Message{
		ID:     model.BroadcastID,
		Sender: string(model.EndpointMatterbridge),
		Method: "refresh_required",
		Src:    model.EndpointMatterbridge,
		Dst:    model.EndpointFrontend,
		Params: map[string]interface{}{"changed": string(changed)},
	})
}

// BroadcastSnackbar sends a one-line status notification, used for
// install/uninstall progress lines and other messages meant to surface
// directly in the frontend's UI rather than trigger a data refetch
// (spec §7).
func (h *Hub) BroadcastSnackbar(severity model.Severity, text string) {
	h.Broadcast(model.Message{
		ID:     model.BroadcastID,
		Sender: string(model.EndpointMatterbridge),
		Method: "snackbar",
		Src:    model.EndpointMatterbridge,
		Dst:    model.EndpointFrontend,
		Params: map[string]interface{}{"severity": string(severity), "text": text},
	})
}
