package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"examroom/internal/clock"
	"examroom/internal/room"
	"examroom/pkg/types"
)

// mockRegistry implements RoomRegistry over a static map.
type mockRegistry struct {
	rooms map[string]*room.Actor
}

func (m *mockRegistry) Lookup(roomCode string) (*room.Actor, error) {
	if actor, ok := m.rooms[roomCode]; ok {
		return actor, nil
	}
	return nil, types.ErrRoomNotFound
}

func (m *mockRegistry) ListByClass(className string) []types.RoomSummary {
	var summaries []types.RoomSummary
	for _, actor := range m.rooms {
		if actor.ClassName() == className {
			if summary, err := actor.Summary(); err == nil {
				summaries = append(summaries, summary)
			}
		}
	}
	return summaries
}

func (m *mockRegistry) Count() int {
	return len(m.rooms)
}

// mockDirectory implements interfaces.DirectoryService with failure toggles.
type mockDirectory struct {
	records          []*types.SessionHistoryRecord
	shouldFailHealth bool
	shouldFailList   bool
}

func (m *mockDirectory) ResolveTest(ctx context.Context, testID string) (*types.TestInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockDirectory) ClassRoster(ctx context.Context, classID string) ([]string, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockDirectory) SaveSessionHistory(ctx context.Context, record *types.SessionHistoryRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *mockDirectory) ListSessionHistory(ctx context.Context, classID string) ([]*types.SessionHistoryRecord, error) {
	if m.shouldFailList {
		return nil, fmt.Errorf("mock list failure")
	}
	var out []*types.SessionHistoryRecord
	for _, rec := range m.records {
		if rec.ClassID == classID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockDirectory) HealthCheck(ctx context.Context) error {
	if m.shouldFailHealth {
		return fmt.Errorf("mock health failure")
	}
	return nil
}

func (m *mockDirectory) Close() error { return nil }

type mockStats struct{}

func (m *mockStats) Stats() map[string]int {
	return map[string]int{"clients": 2}
}

func newTestActor(t *testing.T, code, className string) *room.Actor {
	t.Helper()
	directory := &mockDirectory{}
	actor := room.NewActor(room.Config{
		Room: types.Room{
			Code:            code,
			ProctorID:       "prof-1",
			TestID:          "test-1",
			ClassID:         "class-1",
			ClassName:       className,
			TestTitle:       "Midterm",
			DurationMinutes: 45,
		},
		Clock:     clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		Directory: directory,
		Broadcast: func(event *types.OutboundEvent) {},
	})
	t.Cleanup(actor.Stop)
	return actor
}

func newTestServer(t *testing.T, directory *mockDirectory, actors ...*room.Actor) *Server {
	t.Helper()
	rooms := make(map[string]*room.Actor)
	for _, actor := range actors {
		rooms[actor.Code()] = actor
	}
	return NewServer(&mockRegistry{rooms: rooms}, directory, &mockStats{})
}

func TestListRooms(t *testing.T) {
	actor := newTestActor(t, "math-101-a7x9", "Math 101")
	server := newTestServer(t, &mockDirectory{}, actor)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms?class=Math+101", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp ListRoomsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Rooms) != 1 || resp.Rooms[0].Code != "math-101-a7x9" {
		t.Errorf("Unexpected room list: %+v", resp.Rooms)
	}
}

func TestListRoomsRequiresClass(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestListRoomsEmptyClass(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/api/rooms?class=Empty", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp ListRoomsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Rooms == nil || len(resp.Rooms) != 0 {
		t.Errorf("Expected empty (non-null) room list, got %+v", resp.Rooms)
	}
}

func TestGetRoomSnapshot(t *testing.T) {
	actor := newTestActor(t, "math-101-a7x9", "Math 101")
	server := newTestServer(t, &mockDirectory{}, actor)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/math-101-a7x9", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp RoomResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Snapshot == nil || resp.Snapshot.Room.Code != "math-101-a7x9" {
		t.Errorf("Unexpected snapshot: %+v", resp.Snapshot)
	}
	if resp.Snapshot.Room.Lifecycle != types.LifecycleOpenForJoin {
		t.Errorf("Expected open_for_join lifecycle, got %s", resp.Snapshot.Room.Lifecycle)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/unknown-room", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected error code 404 in body, got %d", resp.Code)
	}
}

func TestGetRoomMethodNotAllowed(t *testing.T) {
	actor := newTestActor(t, "math-101-a7x9", "Math 101")
	server := newTestServer(t, &mockDirectory{}, actor)

	req := httptest.NewRequest(http.MethodDelete, "/api/rooms/math-101-a7x9", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	directory := &mockDirectory{
		records: []*types.SessionHistoryRecord{
			{ID: "hist-1", ClassID: "class-1", TestTitle: "Quiz 1"},
			{ID: "hist-2", ClassID: "class-2", TestTitle: "Quiz 2"},
		},
	}
	server := newTestServer(t, directory)

	req := httptest.NewRequest(http.MethodGet, "/api/history?class_id=class-1", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].ID != "hist-1" {
		t.Errorf("Unexpected history records: %+v", resp.Records)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without class_id, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy status, got %s", resp.Status)
	}
	if resp.Connections["clients"] != 2 {
		t.Errorf("Expected connection stats in health response, got %+v", resp.Connections)
	}
}

func TestHealthCheckUnhealthyDirectory(t *testing.T) {
	server := newTestServer(t, &mockDirectory{shouldFailHealth: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Expected unhealthy status, got %s", resp.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics endpoint, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, &mockDirectory{})

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on preflight response")
	}
}
