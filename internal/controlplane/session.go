package controlplane

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/matterbridge-core/bridge/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is one connected frontend's websocket, holding a priority
// targeted-message channel and a bounded drop-oldest broadcast queue
// (spec §4.7). The two-channel write discipline generalises the
// single-buffered-channel writePump in api/internal/websocket/hub.go so
// that a broadcast backlog can never delay or displace a targeted
// response.
type Session struct {
	ID       string
	conn     *websocket.Conn
	password string
	log      zerolog.Logger

	targeted chan model.Message // small, never dropped; never closed (Close closes closed)
	notify   chan struct{}      // signalled whenever a broadcast is enqueued

	broadcastMu sync.Mutex
	broadcast   []model.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps conn (may be nil in tests that exercise queueing
// without a real socket).
func NewSession(id string, conn *websocket.Conn, password string, log zerolog.Logger) *Session {
	return &Session{
		ID:       id,
		conn:     conn,
		password: password,
		log:      log.With().Str("session", id).Logger(),
		targeted: make(chan model.Message, 16),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// SendTargeted enqueues a targeted response or request. Targeted
// envelopes are never dropped (spec §4.7); if the tiny targeted buffer is
// full the call blocks until there is room or the session is closed,
// rather than discarding state that a waiter (SendRequest) depends on.
func (s *Session) SendTargeted(msg model.Message) {
	select {
	case s.targeted <- msg:
	case <-s.closed:
	}
}

// EnqueueBroadcast appends msg to the broadcast backlog, dropping the
// oldest entry first if the backlog is already at BroadcastQueueSize
// (spec §4.7 "drop-oldest-broadcast backpressure").
func (s *Session) EnqueueBroadcast(msg model.Message) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if len(s.broadcast) >= BroadcastQueueSize {
		s.broadcast = s.broadcast[1:]
	}
	s.broadcast = append(s.broadcast, msg)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// drainBroadcast pops the oldest queued broadcast, if any.
func (s *Session) drainBroadcast() (model.Message, bool) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if len(s.broadcast) == 0 {
		return model.Message{}, false
	}
	msg := s.broadcast[0]
	s.broadcast = s.broadcast[1:]
	return msg, true
}

// Close tears the session down; safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// WritePump drains targeted (priority) then broadcast messages to the
// underlying connection, pinging on idle, following the ticker/ping
// discipline in api/internal/websocket/hub.go's Client.writePump.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg, ok := <-s.targeted:
			if !ok {
				return
			}
			if !s.write(msg) {
				return
			}
		case <-s.notify:
			for {
				msg, ok := s.drainBroadcast()
				if !ok {
					break
				}
				if !s.write(msg) {
					return
				}
			}
		case <-s.closed:
			return
		case <-ticker.C:
			if s.conn != nil {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func (s *Session) write(msg model.Message) bool {
	if s.conn == nil {
		return true
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to marshal control-plane envelope")
		return true
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return false
	}
	return true
}

// ReadPump reads envelopes from the connection and hands them to hub for
// dispatch, following Client.readPump's deadline/pong-handler pattern.
func (s *Session) ReadPump(onMessage func(model.Message)) {
	defer s.Close()
	if s.conn == nil {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg model.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn().Err(err).Msg("failed to unmarshal control-plane envelope")
			continue
		}
		onMessage(msg)
	}
}
