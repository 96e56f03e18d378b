package controlplane

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/matterbridge-core/bridge/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an incoming HTTP request to a websocket connection and
// registers it as a control-plane session, following
// api/internal/handlers/websocket.go's upgrade-then-register-then-pump
// pattern. password, if present, comes from the request's query string
// and is checked against the hub's shared secret in Register.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := NewSession(uuid.NewString(), conn, r.URL.Query().Get("password"), h.log)
	if err := h.Register(sess); err != nil {
		sess.SendTargeted(model.Message{ID: model.BroadcastID, Sender: string(model.EndpointMatterbridge), Error: fmt.Sprintf("unauthorized: %v", err)})
		sess.Close()
		return
	}

	go sess.WritePump()
	sess.ReadPump(func(msg model.Message) {
		h.Dispatch(r.Context(), sess, msg)
	})
	h.Unregister(sess.ID)
}
