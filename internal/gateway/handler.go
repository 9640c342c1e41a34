package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"examroom/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// All origins accepted in development; production deployments front
		// this with their own origin policy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades client connections and pumps their events into the
// dispatcher. Identity arrives as query parameters; who may do what inside a
// room is decided per event by the dispatcher, not here.
type Handler struct {
	subs       *Subscriptions
	dispatcher *Dispatcher

	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler creates a WebSocket handler.
func NewHandler(subs *Subscriptions, dispatcher *Dispatcher, pingInterval, readTimeout time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	return &Handler{
		subs:         subs,
		dispatcher:   dispatcher,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// HandleWebSocket validates the request, upgrades it, and starts the
// connection's lifecycle. Validation happens before the upgrade so bad
// requests get proper HTTP status codes and never consume a socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	role := r.URL.Query().Get("role")
	displayName := r.URL.Query().Get("name")

	if userID == "" || role == "" {
		http.Error(w, "Missing required query parameters: user_id, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if role != types.RoleProctor && role != types.RoleParticipant {
		http.Error(w, "Invalid role: must be 'proctor' or 'participant'", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = userID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	wsConn.SetIdentity(userID, role, displayName)

	if err := h.subs.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	log.Printf("Client connected: user=%s role=%s", userID, role)
	go h.handleConnection(wsConn)
}

// handleConnection owns the read side of one connection: heartbeat
// monitoring plus the event read pump. Cleanup is deferred so the roster's
// connection state is flagged even when the pump exits abnormally.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.dispatcher.HandleDisconnect(conn)
		_ = conn.Close()
		log.Printf("Client disconnected: user=%s", conn.UserID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: user=%s err=%v", conn.UserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := types.DecodeInboundEvent(data)
		if err != nil {
			if werr := conn.WriteJSON(types.NewOutboundEvent(types.EventError, "", map[string]interface{}{
				"error": err.Error(),
			})); werr != nil {
				log.Printf("Failed to send decode error to %s: %v", conn.UserID(), werr)
			}
			continue
		}
		h.dispatcher.Dispatch(conn, ev)
	}
}
