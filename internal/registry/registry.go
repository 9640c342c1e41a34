package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"examroom/internal/metrics"
	"examroom/internal/room"
	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// Config tunes room actor construction.
type Config struct {
	// QueueSize is each actor's inbound event queue capacity.
	QueueSize int
	// AutoForceSubmit enables the deadline watchdog on every room. Off by
	// default: the original system leaves deadline action to the proctor.
	AutoForceSubmit bool
	// WatchdogInterval is the watchdog poll period when enabled.
	WatchdogInterval int // seconds
}

// CreateParams are the proctor-supplied fields of a createRoom event. Test
// metadata resolved from the directory takes precedence over the supplied
// title/duration/class so dashboards and history agree with the test bank.
type CreateParams struct {
	Code            string
	ProctorID       string
	TestID          string
	ClassID         string
	TestTitle       string
	DurationMinutes int
}

// Registry owns the room-code namespace: creation, lookup, listing and
// deletion of room actors. The namespace is the only resource shared across
// actors; insertion is atomic check-then-create under one mutex so two
// concurrent creates can never produce duplicate room codes.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room.Actor

	directory interfaces.DirectoryService
	clock     interfaces.Clock
	broadcast room.Broadcaster
	cfg       Config

	// onDelete lets the gateway drop a deleted room's subscriptions so no
	// dangling subscriber outlives its actor.
	onDelete func(roomCode string)
}

// NewRegistry creates a room registry. broadcast is handed to every actor for
// outbound fan-out.
func NewRegistry(directory interfaces.DirectoryService, clk interfaces.Clock, broadcast room.Broadcaster, cfg Config) *Registry {
	return &Registry{
		rooms:     make(map[string]*room.Actor),
		directory: directory,
		clock:     clk,
		broadcast: broadcast,
		cfg:       cfg,
	}
}

// SetOnDelete registers the subscription-teardown hook. Called once during
// wiring, before any traffic.
func (r *Registry) SetOnDelete(hook func(roomCode string)) {
	r.onDelete = hook
}

// Create resolves room metadata through the directory and starts a new actor.
// Returns ErrRoomExists when the code is already live. The directory calls
// run outside the namespace lock; only the check-then-insert is serialized.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*room.Actor, error) {
	if !types.IsValidRoomCode(params.Code) {
		return nil, types.ErrInvalidRoomCode
	}

	meta := types.Room{
		Code:            params.Code,
		ProctorID:       params.ProctorID,
		TestID:          params.TestID,
		TestTitle:       params.TestTitle,
		DurationMinutes: params.DurationMinutes,
		ClassID:         params.ClassID,
		Lifecycle:       types.LifecycleCreated,
	}

	// Resolve test metadata; the directory is authoritative when it knows
	// the test, the proctor-supplied fields cover tests it does not.
	info, err := r.directory.ResolveTest(ctx, params.TestID)
	switch {
	case err == nil:
		meta.TestTitle = info.Title
		meta.DurationMinutes = info.DurationMinutes
		meta.ClassID = info.ClassID
		meta.ClassName = info.ClassName
	case errors.Is(err, interfaces.ErrTestNotFound):
		log.Printf("Test not in directory, using supplied metadata: test=%s room=%s", params.TestID, params.Code)
	default:
		return nil, err
	}

	// Class enrollment backs standing permits and the oversubscription
	// guard. A missing roster disables both rather than blocking creation.
	roster, err := r.directory.ClassRoster(ctx, meta.ClassID)
	if err != nil && !errors.Is(err, interfaces.ErrClassNotFound) {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.rooms[params.Code]; exists {
		r.mu.Unlock()
		return nil, types.ErrRoomExists
	}
	actor := room.NewActor(room.Config{
		Room:        meta,
		ClassRoster: roster,
		Clock:       r.clock,
		Directory:   r.directory,
		Broadcast:   r.broadcast,
		QueueSize:   r.cfg.QueueSize,
	})
	r.rooms[params.Code] = actor
	r.mu.Unlock()

	if r.cfg.AutoForceSubmit {
		interval := r.cfg.WatchdogInterval
		if interval <= 0 {
			interval = 5
		}
		go actor.RunWatchdog(context.Background(), time.Duration(interval)*time.Second)
	}

	metrics.RoomsCreated.Inc()
	metrics.ActiveRooms.Inc()
	log.Printf("Room created: code=%s proctor=%s test=%s class=%s duration=%dm",
		meta.Code, meta.ProctorID, meta.TestID, meta.ClassID, meta.DurationMinutes)
	return actor, nil
}

// Lookup returns the live actor for a room code.
func (r *Registry) Lookup(roomCode string) (*room.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actor, exists := r.rooms[roomCode]
	if !exists {
		return nil, types.ErrRoomNotFound
	}
	return actor, nil
}

// Exists reports whether a room code is live.
func (r *Registry) Exists(roomCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.rooms[roomCode]
	return exists
}

// ListByClass returns summaries of live rooms for a class. Summaries are
// collected outside the namespace lock; each goes through its actor's queue
// so the counts are committed state.
func (r *Registry) ListByClass(className string) []types.RoomSummary {
	r.mu.RLock()
	matched := make([]*room.Actor, 0)
	for _, actor := range r.rooms {
		if actor.ClassName() == className {
			matched = append(matched, actor)
		}
	}
	r.mu.RUnlock()

	summaries := make([]types.RoomSummary, 0, len(matched))
	for _, actor := range matched {
		summary, err := actor.Summary()
		if err != nil {
			continue // deleted while listing
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Delete removes a room and stops its actor. Idempotent: deleting an unknown
// code is a no-op, not an error, because concurrent double-deletes from
// proctor retries must not crash the session. Subscription teardown runs
// through the onDelete hook so nothing dangles.
func (r *Registry) Delete(roomCode string) {
	r.mu.Lock()
	actor, exists := r.rooms[roomCode]
	if exists {
		delete(r.rooms, roomCode)
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	actor.Stop()
	if r.onDelete != nil {
		r.onDelete(roomCode)
	}
	metrics.ActiveRooms.Dec()
	log.Printf("Room deleted: code=%s", roomCode)
}

// Close stops every live actor. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room.Actor)
	r.mu.Unlock()

	for code, actor := range rooms {
		actor.Stop()
		if r.onDelete != nil {
			r.onDelete(code)
		}
		metrics.ActiveRooms.Dec()
	}
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
