package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"examroom/internal/metrics"
	"examroom/internal/registry"
	"examroom/internal/room"
	"examroom/pkg/types"
)

// Dispatcher routes decoded inbound events to the right room actor and sends
// acknowledgements back to the originating client. It holds no room state:
// every mutation happens inside an actor's command loop, and every broadcast
// comes back out through the subscription layer.
type Dispatcher struct {
	registry *registry.Registry
	subs     *Subscriptions
	limiter  *RateLimiter
}

// NewDispatcher creates a dispatcher over the registry and subscriptions.
func NewDispatcher(reg *registry.Registry, subs *Subscriptions) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		subs:     subs,
		limiter:  NewRateLimiter(),
	}
}

// Dispatch handles one validated inbound event from conn. The switch is
// exhaustive over the inbound event set; decode has already rejected unknown
// kinds.
func (d *Dispatcher) Dispatch(conn *Connection, ev *types.InboundEvent) {
	if !d.limiter.Allow(conn.UserID()) {
		d.nack(conn, ev, ErrRateLimitExceeded)
		return
	}
	if !roleMaySend(conn.Role(), ev.Kind) {
		d.nack(conn, ev, ErrUnauthorizedEvent)
		return
	}

	var err error
	switch ev.Kind {
	case types.EventCreateRoom:
		err = d.handleCreateRoom(conn, ev)
	case types.EventRequestToJoin:
		err = d.handleRequestToJoin(conn, ev)
	case types.EventPermitJoin:
		err = d.handlePermitJoin(conn, ev)
	case types.EventJoin:
		err = d.handleJoin(conn, ev)
	case types.EventStartExam:
		err = d.handleStartExam(conn, ev)
	case types.EventReportProgress:
		err = d.handleReportProgress(conn, ev)
	case types.EventReportViolation:
		err = d.handleReportViolation(conn, ev)
	case types.EventSubmit:
		err = d.handleSubmit(conn, ev)
	case types.EventForceSubmit:
		err = d.handleForceSubmit(conn, ev)
	case types.EventEndExam:
		err = d.handleEndExam(conn, ev)
	case types.EventDeleteRoom:
		err = d.handleDeleteRoom(conn, ev)
	case types.EventGetRoomSnapshot:
		err = d.handleGetRoomSnapshot(conn, ev)
	case types.EventListRoomsByClass:
		err = d.handleListRoomsByClass(conn, ev)
	}

	if err != nil {
		metrics.EventsProcessed.WithLabelValues(string(ev.Kind), "error").Inc()
		d.nack(conn, ev, err)
		return
	}
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind), "ok").Inc()
}

// HandleDisconnect flags the user as disconnected in every room they were
// subscribed to. Disconnects cancel nothing: progress state survives for
// reconnection.
func (d *Dispatcher) HandleDisconnect(conn *Connection) {
	rooms := d.subs.Unregister(conn)
	if conn.Role() != types.RoleParticipant {
		return
	}
	for _, roomCode := range rooms {
		actor, err := d.registry.Lookup(roomCode)
		if err != nil {
			continue
		}
		if err := actor.SetConnectionState(conn.UserID(), false); err != nil && !errors.Is(err, room.ErrActorStopped) {
			log.Printf("Disconnect tracking failed: user=%s room=%s err=%v", conn.UserID(), roomCode, err)
		}
	}
}

func (d *Dispatcher) handleCreateRoom(conn *Connection, ev *types.InboundEvent) error {
	if ev.ProctorID != conn.UserID() {
		return ErrUnauthorizedEvent
	}
	ctx, cancel := opContext()
	defer cancel()

	actor, err := d.registry.Create(ctx, registry.CreateParams{
		Code:            ev.RoomCode,
		ProctorID:       ev.ProctorID,
		TestID:          ev.TestID,
		ClassID:         ev.ClassID,
		TestTitle:       ev.TestTitle,
		DurationMinutes: ev.DurationMinutes,
	})
	if err != nil {
		return err
	}

	d.subs.Subscribe(conn, ev.RoomCode)
	snap, err := actor.Snapshot()
	if err != nil {
		return err
	}
	d.subs.Broadcast(types.NewOutboundEvent(types.EventRoomCreated, ev.RoomCode, snap))
	return nil
}

func (d *Dispatcher) handleRequestToJoin(conn *Connection, ev *types.InboundEvent) error {
	if err := d.requireSelf(conn, ev); err != nil {
		return err
	}
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	d.subs.Subscribe(conn, ev.RoomCode)

	_, err = actor.RequestToJoin(ev.ParticipantID, ev.DisplayName, ev.ExternalStudentID)
	return err
}

func (d *Dispatcher) handlePermitJoin(conn *Connection, ev *types.InboundEvent) error {
	actor, err := d.lookupOwned(conn, ev.RoomCode)
	if err != nil {
		return err
	}
	return actor.PermitJoin(ev.ParticipantID, ev.Accept)
}

func (d *Dispatcher) handleJoin(conn *Connection, ev *types.InboundEvent) error {
	if err := d.requireSelf(conn, ev); err != nil {
		return err
	}
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	d.subs.Subscribe(conn, ev.RoomCode)

	displayName := ev.DisplayName
	if displayName == "" {
		displayName = conn.DisplayName()
	}
	if _, err := actor.Join(ev.ParticipantID, displayName, ev.ExternalStudentID); err != nil {
		return err
	}
	return d.sendSnapshot(conn, actor)
}

func (d *Dispatcher) handleStartExam(conn *Connection, ev *types.InboundEvent) error {
	actor, err := d.lookupOwned(conn, ev.RoomCode)
	if err != nil {
		return err
	}
	_, err = actor.StartExam(ev.ParsedStartTime(), ev.ConfirmOversubscribed)
	return err
}

func (d *Dispatcher) handleReportProgress(conn *Connection, ev *types.InboundEvent) error {
	if err := d.requireSelf(conn, ev); err != nil {
		return err
	}
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	return actor.ReportProgress(ev.ParticipantID, ev.QuestionIndex)
}

func (d *Dispatcher) handleReportViolation(conn *Connection, ev *types.InboundEvent) error {
	if err := d.requireSelf(conn, ev); err != nil {
		return err
	}
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	return actor.RecordViolation(ev.ParticipantID, ev.ViolationKind)
}

func (d *Dispatcher) handleSubmit(conn *Connection, ev *types.InboundEvent) error {
	if err := d.requireSelf(conn, ev); err != nil {
		return err
	}
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	return actor.Submit(ev.ParticipantID)
}

func (d *Dispatcher) handleForceSubmit(conn *Connection, ev *types.InboundEvent) error {
	actor, err := d.lookupOwned(conn, ev.RoomCode)
	if err != nil {
		return err
	}
	if ev.ParticipantID == types.ForceSubmitAll {
		n, err := actor.ForceSubmitAll()
		if err != nil {
			return err
		}
		metrics.ForceSubmissions.Add(float64(n))
		return nil
	}
	if err := actor.ForceSubmit(ev.ParticipantID); err != nil {
		return err
	}
	metrics.ForceSubmissions.Inc()
	return nil
}

// handleEndExam runs the proctor's end-exam unit: force-submit everyone,
// persist the history record, then delete the room. Persistence failure
// leaves the room alive (never silently deleted) and the proctor
// retries the whole unit.
func (d *Dispatcher) handleEndExam(conn *Connection, ev *types.InboundEvent) error {
	actor, err := d.lookupOwned(conn, ev.RoomCode)
	if err != nil {
		return err
	}

	ctx, cancel := opContext()
	defer cancel()
	if _, err := actor.EndExam(ctx); err != nil {
		return err
	}

	// roomEnded was broadcast by the actor; announce the teardown before
	// subscriptions are dropped.
	d.subs.Broadcast(types.NewOutboundEvent(types.EventRoomDeleted, ev.RoomCode, nil))
	d.registry.Delete(ev.RoomCode)
	return nil
}

func (d *Dispatcher) handleDeleteRoom(conn *Connection, ev *types.InboundEvent) error {
	// Idempotent by contract: deleting an unknown room is a no-op.
	if !d.registry.Exists(ev.RoomCode) {
		return nil
	}
	if _, err := d.lookupOwned(conn, ev.RoomCode); err != nil {
		return err
	}
	d.subs.Broadcast(types.NewOutboundEvent(types.EventRoomDeleted, ev.RoomCode, nil))
	d.registry.Delete(ev.RoomCode)
	return nil
}

func (d *Dispatcher) handleGetRoomSnapshot(conn *Connection, ev *types.InboundEvent) error {
	actor, err := d.registry.Lookup(ev.RoomCode)
	if err != nil {
		return err
	}
	d.subs.Subscribe(conn, ev.RoomCode)

	// A reconnecting participant resumes here; flag them connected again.
	if conn.Role() == types.RoleParticipant {
		if err := actor.SetConnectionState(conn.UserID(), true); err != nil {
			return err
		}
	}
	return d.sendSnapshot(conn, actor)
}

func (d *Dispatcher) handleListRoomsByClass(conn *Connection, ev *types.InboundEvent) error {
	summaries := d.registry.ListByClass(ev.ClassName)
	return conn.WriteJSON(types.NewOutboundEvent(types.EventRoomList, "", summaries))
}

// lookupOwned resolves a room and checks the sender is its proctor.
func (d *Dispatcher) lookupOwned(conn *Connection, roomCode string) (*room.Actor, error) {
	actor, err := d.registry.Lookup(roomCode)
	if err != nil {
		return nil, err
	}
	if actor.ProctorID() != conn.UserID() {
		return nil, ErrUnauthorizedEvent
	}
	d.subs.Subscribe(conn, roomCode)
	return actor, nil
}

// requireSelf rejects participant events sent on someone else's behalf.
func (d *Dispatcher) requireSelf(conn *Connection, ev *types.InboundEvent) error {
	if ev.ParticipantID != conn.UserID() {
		return ErrUnauthorizedEvent
	}
	return nil
}

func (d *Dispatcher) sendSnapshot(conn *Connection, actor *room.Actor) error {
	snap, err := actor.Snapshot()
	if err != nil {
		return err
	}
	return conn.WriteJSON(types.NewOutboundEvent(types.EventRoomSnapshot, actor.Code(), snap))
}

// nack reports a failed event back to its sender. Unknown or stopped rooms
// surface as roomNotFound; everything else is an error envelope naming the
// offending event.
func (d *Dispatcher) nack(conn *Connection, ev *types.InboundEvent, cause error) {
	var out *types.OutboundEvent
	if errors.Is(cause, types.ErrRoomNotFound) || errors.Is(cause, room.ErrActorStopped) {
		out = types.NewOutboundEvent(types.EventRoomNotFound, ev.RoomCode, nil)
	} else {
		out = types.NewOutboundEvent(types.EventError, ev.RoomCode, map[string]interface{}{
			"event": ev.Kind,
			"error": cause.Error(),
		})
	}
	if err := conn.WriteJSON(out); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.UserID(), err)
	}
}

// roleMaySend is the role permission table for the closed inbound event set.
func roleMaySend(role string, kind types.EventKind) bool {
	switch role {
	case types.RoleProctor:
		switch kind {
		case types.EventCreateRoom, types.EventPermitJoin, types.EventStartExam,
			types.EventForceSubmit, types.EventEndExam, types.EventDeleteRoom,
			types.EventGetRoomSnapshot, types.EventListRoomsByClass:
			return true
		}
	case types.RoleParticipant:
		switch kind {
		case types.EventRequestToJoin, types.EventJoin, types.EventReportProgress,
			types.EventReportViolation, types.EventSubmit,
			types.EventGetRoomSnapshot, types.EventListRoomsByClass:
			return true
		}
	}
	return false
}

// opContext bounds a single actor operation, including the blocking history
// persistence at end exam.
func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
