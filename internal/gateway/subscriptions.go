package gateway

import (
	"log"
	"sync"

	"examroom/internal/metrics"
	"examroom/pkg/types"
)

// Subscriptions tracks which connections are listening to which rooms. Pure
// connection bookkeeping, no room logic: actors hand their outbound events to
// Broadcast and this layer fans them out. A client may subscribe to several
// rooms at once (a proctor's dashboard lists many).
type Subscriptions struct {
	mu               sync.RWMutex
	clients          map[string]*Connection            // userID -> current connection
	roomProctors     map[string]map[string]*Connection // roomCode -> userID -> conn
	roomParticipants map[string]map[string]*Connection
	userRooms        map[string]map[string]bool // userID -> roomCodes, for disconnect cleanup
}

// NewSubscriptions creates an empty subscription table.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		clients:          make(map[string]*Connection),
		roomProctors:     make(map[string]map[string]*Connection),
		roomParticipants: make(map[string]map[string]*Connection),
		userRooms:        make(map[string]map[string]bool),
	}
}

// Register tracks a client connection globally. A user reconnecting replaces
// their previous connection; the old one is closed asynchronously to avoid
// holding the lock through a close.
func (s *Subscriptions) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsIdentified() {
		return ErrNoIdentity
	}

	userID := conn.UserID()
	s.mu.Lock()
	if existing, ok := s.clients[userID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: user=%s err=%v", userID, err)
			}
		}()
	}
	s.clients[userID] = conn
	s.mu.Unlock()

	metrics.SubscribedClients.Inc()
	return nil
}

// Unregister removes a connection and all of its room subscriptions.
// Idempotent, and keyed on connection identity: an old connection's cleanup
// never removes the newer connection that replaced it. Returns the rooms the
// user was subscribed to so the caller can flag the disconnect to their
// actors.
func (s *Subscriptions) Unregister(conn *Connection) []string {
	if conn == nil {
		return nil
	}
	userID := conn.UserID()

	s.mu.Lock()
	defer s.mu.Unlock()

	registered, ok := s.clients[userID]
	if !ok || registered != conn {
		return nil
	}
	delete(s.clients, userID)

	var rooms []string
	for roomCode := range s.userRooms[userID] {
		rooms = append(rooms, roomCode)
		s.removeFromRoom(roomCode, userID)
	}
	delete(s.userRooms, userID)

	metrics.SubscribedClients.Dec()
	return rooms
}

// Subscribe adds a connection to a room's subscriber set by role. Repeat
// subscriptions are no-ops; reports whether this call added the subscription.
func (s *Subscriptions) Subscribe(conn *Connection, roomCode string) bool {
	if conn == nil || !conn.IsIdentified() {
		return false
	}
	userID := conn.UserID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userRooms[userID][roomCode] {
		return false
	}
	if s.userRooms[userID] == nil {
		s.userRooms[userID] = make(map[string]bool)
	}
	s.userRooms[userID][roomCode] = true

	target := s.roomParticipants
	if conn.Role() == types.RoleProctor {
		target = s.roomProctors
	}
	if target[roomCode] == nil {
		target[roomCode] = make(map[string]*Connection)
	}
	target[roomCode][userID] = conn
	return true
}

// DropRoom removes every subscription for a room. Called when the registry
// deletes the room so no subscriber outlives its actor.
func (s *Subscriptions) DropRoom(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID := range s.roomProctors[roomCode] {
		delete(s.userRooms[userID], roomCode)
	}
	for userID := range s.roomParticipants[roomCode] {
		delete(s.userRooms[userID], roomCode)
	}
	delete(s.roomProctors, roomCode)
	delete(s.roomParticipants, roomCode)
}

// UserConnection returns the current connection for a user.
func (s *Subscriptions) UserConnection(userID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.clients[userID]
	return conn, ok
}

// RoomSubscribers returns all connections subscribed to a room.
func (s *Subscriptions) RoomSubscribers(roomCode string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conns []*Connection
	for _, conn := range s.roomProctors[roomCode] {
		conns = append(conns, conn)
	}
	for _, conn := range s.roomParticipants[roomCode] {
		conns = append(conns, conn)
	}
	return conns
}

// RoomProctors returns the proctor connections subscribed to a room.
func (s *Subscriptions) RoomProctors(roomCode string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conns []*Connection
	for _, conn := range s.roomProctors[roomCode] {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast fans an actor's outbound event out to the room's subscribers.
// Admission events are routed by role: join requests go to proctors, permit
// decisions go to the proctors plus the affected participant. Everything else
// goes to the whole room. Delivery failures are logged and skipped; one slow
// client never blocks the rest.
func (s *Subscriptions) Broadcast(event *types.OutboundEvent) {
	var targets []*Connection

	switch event.Kind {
	case types.EventJoinRequested:
		targets = s.RoomProctors(event.RoomCode)
	case types.EventJoinPermitted, types.EventJoinRejected:
		targets = s.RoomProctors(event.RoomCode)
		if req, ok := event.Payload.(*types.JoinRequest); ok {
			if conn, found := s.UserConnection(req.ParticipantID); found {
				targets = append(targets, conn)
			}
		}
	default:
		targets = s.RoomSubscribers(event.RoomCode)
	}

	for _, conn := range targets {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Broadcast delivery failed: user=%s room=%s kind=%s err=%v",
				conn.UserID(), event.RoomCode, event.Kind, err)
		}
	}
}

// Stats returns subscription counts for the health endpoint.
func (s *Subscriptions) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uniqueRooms := make(map[string]bool)
	for roomCode := range s.roomProctors {
		uniqueRooms[roomCode] = true
	}
	for roomCode := range s.roomParticipants {
		uniqueRooms[roomCode] = true
	}

	return map[string]int{
		"connected_clients": len(s.clients),
		"subscribed_rooms":  len(uniqueRooms),
	}
}

// removeFromRoom runs under the write lock.
func (s *Subscriptions) removeFromRoom(roomCode, userID string) {
	if proctors, ok := s.roomProctors[roomCode]; ok {
		delete(proctors, userID)
		if len(proctors) == 0 {
			delete(s.roomProctors, roomCode)
		}
	}
	if participants, ok := s.roomParticipants[roomCode]; ok {
		delete(participants, userID)
		if len(participants) == 0 {
			delete(s.roomParticipants, roomCode)
		}
	}
}
