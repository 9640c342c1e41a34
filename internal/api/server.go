package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examroom/internal/registry"
	"examroom/internal/room"
	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// RoomRegistry is the server's view of the room registry. Defined here to
// avoid tight coupling to the registry implementation.
type RoomRegistry interface {
	Lookup(roomCode string) (*room.Actor, error)
	ListByClass(className string) []types.RoomSummary
	Count() int
}

// GatewayStats reports live connection counts for the health endpoint.
type GatewayStats interface {
	Stats() map[string]int
}

// Server is the read-only HTTP surface. All state changes flow through the
// WebSocket gateway; HTTP only exposes snapshots, history, health, and
// metrics for dashboards and monitoring.
type Server struct {
	registry  RoomRegistry
	directory interfaces.DirectoryService
	stats     GatewayStats
	router    *http.ServeMux
}

func NewServer(reg RoomRegistry, directory interfaces.DirectoryService, stats GatewayStats) *Server {
	s := &Server{
		registry:  reg,
		directory: directory,
		stats:     stats,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomByCode))))
	s.router.Handle("/api/history", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHistory))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ListRoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type RoomResponse struct {
	Snapshot *types.RoomSnapshot `json:"snapshot"`
}

type HistoryResponse struct {
	Records []*types.SessionHistoryRecord `json:"records"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Directory   string         `json:"directory"`
	ActiveRooms int            `json:"active_rooms"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/rooms?class={className} - list live rooms for a class.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		className := r.URL.Query().Get("class")
		if className == "" {
			s.sendError(w, "class query parameter is required", http.StatusBadRequest)
			return
		}
		summaries := s.registry.ListByClass(className)
		if summaries == nil {
			summaries = []types.RoomSummary{}
		}
		_ = json.NewEncoder(w).Encode(ListRoomsResponse{Rooms: summaries})
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/rooms/{code} - full room snapshot.
func (s *Server) handleRoomByCode(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if path == "" {
		s.sendError(w, "Room code required", http.StatusBadRequest)
		return
	}
	roomCode := strings.Split(path, "/")[0]

	switch r.Method {
	case http.MethodGet:
		s.getRoom(w, roomCode)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getRoom(w http.ResponseWriter, roomCode string) {
	actor, err := s.registry.Lookup(roomCode)
	if err != nil {
		if errors.Is(err, types.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to look up room", http.StatusInternalServerError)
		}
		return
	}

	snapshot, err := actor.Snapshot()
	if err != nil {
		// The actor stopped between lookup and snapshot; the room is gone.
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	_ = json.NewEncoder(w).Encode(RoomResponse{Snapshot: snapshot})
}

// GET /api/history?class_id={id} - persisted records of terminated rooms.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		classID := r.URL.Query().Get("class_id")
		if classID == "" {
			s.sendError(w, "class_id query parameter is required", http.StatusBadRequest)
			return
		}
		records, err := s.directory.ListSessionHistory(r.Context(), classID)
		if err != nil {
			s.sendError(w, "Failed to list session history", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []*types.SessionHistoryRecord{}
		}
		_ = json.NewEncoder(w).Encode(HistoryResponse{Records: records})
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /health - component health with live counts. Returns 503 when the
// directory is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	directoryStatus := "healthy"

	if err := s.directory.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		directoryStatus = fmt.Sprintf("error: %v", err)
	}

	var connectionStats map[string]int
	if s.stats != nil {
		connectionStats = s.stats.Stats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Directory:   directoryStatus,
		ActiveRooms: s.registry.Count(),
		Connections: connectionStats,
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows all origins. Tightened per deployment.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}

var _ RoomRegistry = (*registry.Registry)(nil)
