package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"examroom/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestConnectionPair upgrades a real WebSocket and returns the server-side
// wrapped Connection plus the raw client side for observing delivered frames.
func newTestConnectionPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var raw *websocket.Conn
	select {
	case raw = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server-side connection")
	}

	conn := NewConnection(raw)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

// readEventOfKind reads frames off the client side until one of the wanted
// kind arrives.
func readEventOfKind(t *testing.T, client *websocket.Conn, kind types.EventKind) *types.OutboundEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := client.SetReadDeadline(deadline); err != nil {
			t.Fatalf("SetReadDeadline failed: %v", err)
		}
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("Did not receive %s event: %v", kind, err)
		}
		var ev types.OutboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		if ev.Kind == kind {
			return &ev
		}
	}
}

func TestConnectionWriteJSONDelivers(t *testing.T) {
	conn, client := newTestConnectionPair(t)

	event := types.NewOutboundEvent(types.EventExamStarted, "math-101-a7x9", nil)
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	got := readEventOfKind(t, client, types.EventExamStarted)
	if got.RoomCode != "math-101-a7x9" || got.ID != event.ID {
		t.Errorf("Unexpected delivered event: %+v", got)
	}
}

func TestConnectionWriteAfterClose(t *testing.T) {
	conn, _ := newTestConnectionPair(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := conn.Close(); err != nil {
		t.Errorf("Second Close errored: %v", err)
	}

	err := conn.WriteJSON(map[string]string{"k": "v"})
	if err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnectionIdentity(t *testing.T) {
	conn, _ := newTestConnectionPair(t)

	if conn.IsIdentified() {
		t.Error("Expected new connection unidentified")
	}

	conn.SetIdentity("s1", types.RoleParticipant, "Student One")
	if !conn.IsIdentified() {
		t.Error("Expected connection identified after SetIdentity")
	}
	if conn.UserID() != "s1" || conn.Role() != types.RoleParticipant || conn.DisplayName() != "Student One" {
		t.Errorf("Unexpected identity: %s/%s/%s", conn.UserID(), conn.Role(), conn.DisplayName())
	}
}

func TestConnectionConcurrentWrites(t *testing.T) {
	conn, client := newTestConnectionPair(t)

	// Many goroutines write at once; the single writer goroutine serializes
	// them onto the socket without interleaving.
	const writers = 10
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			done <- conn.WriteJSON(types.NewOutboundEvent(types.EventParticipantUpdated, "math-101-a7x9", nil))
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}

	for i := 0; i < writers; i++ {
		readEventOfKind(t, client, types.EventParticipantUpdated)
	}
}
