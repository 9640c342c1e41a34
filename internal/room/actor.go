package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// Broadcaster fans an outbound event out to the room's subscribers. The
// gateway supplies it; the actor never touches connections directly.
type Broadcaster func(event *types.OutboundEvent)

// Config carries everything an actor needs at creation. The registry resolves
// test metadata and the class roster through the directory service before
// building this.
type Config struct {
	Room        types.Room
	ClassRoster []string
	Clock       interfaces.Clock
	Directory   interfaces.DirectoryService
	Broadcast   Broadcaster
	QueueSize   int
}

// Actor is one room's sequential event processor. All external events for the
// room flow through a single ordered command queue; only the run goroutine
// ever mutates room state, so no locks guard it. Arbitrarily many actors run
// concurrently with no shared mutable state between them.
type Actor struct {
	commands chan *command

	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopping bool
	quit     chan struct{}

	// Owned by the run goroutine.
	meta      types.Room
	admission *admission
	roster    *tracker
	timing    *timing

	clock     interfaces.Clock
	directory interfaces.DirectoryService
	broadcast Broadcaster
}

// command is one unit of work on the actor queue. The closure captures its
// own typed results; done signals completion. Same shape as a single-writer
// operation/result pair, which keeps processing strictly in arrival order.
type command struct {
	apply   func()
	done    chan struct{}
	aborted bool // set by the loop when the actor stops before applying
}

// NewActor builds an actor and starts its event loop. Rooms open for joining
// immediately: created -> open_for_join needs no separate signal.
func NewActor(cfg Config) *Actor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	meta := cfg.Room
	meta.Lifecycle = types.LifecycleOpenForJoin
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = cfg.Clock.Now()
	}

	a := &Actor{
		commands:  make(chan *command, queueSize),
		quit:      make(chan struct{}),
		meta:      meta,
		admission: newAdmission(cfg.ClassRoster),
		roster:    newTracker(),
		timing:    newTiming(meta.DurationMinutes),
		clock:     cfg.Clock,
		directory: cfg.Directory,
		broadcast: cfg.Broadcast,
	}
	go a.run()
	return a
}

// run processes commands in arrival order until the actor is stopped.
func (a *Actor) run() {
	for {
		select {
		case cmd := <-a.commands:
			cmd.apply()
			close(cmd.done)
		case <-a.quit:
			// Release any callers still queued behind the stop. No new
			// commands can arrive: the stopping flag is set before quit
			// closes, and senders hold the read lock across their send.
			for {
				select {
				case cmd := <-a.commands:
					cmd.aborted = true
					close(cmd.done)
				default:
					return
				}
			}
		}
	}
}

// Stop terminates the event loop. Idempotent; the registry calls it when the
// room is deleted. Queued commands are drained and their callers observe
// ErrActorStopped.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		a.stopMu.Lock()
		a.stopping = true
		a.stopMu.Unlock()
		close(a.quit)
	})
}

// do enqueues a closure and waits for the loop to execute it. The read lock
// is held across the send so Stop cannot close the loop while a command is
// in flight toward the queue.
func (a *Actor) do(apply func()) error {
	cmd := &command{apply: apply, done: make(chan struct{})}
	a.stopMu.RLock()
	if a.stopping {
		a.stopMu.RUnlock()
		return ErrActorStopped
	}
	a.commands <- cmd
	a.stopMu.RUnlock()

	<-cmd.done
	if cmd.aborted {
		return ErrActorStopped
	}
	return nil
}

// Code returns the room code. Immutable, safe without the queue.
func (a *Actor) Code() string {
	return a.meta.Code
}

// ClassName returns the room's class name. Immutable.
func (a *Actor) ClassName() string {
	return a.meta.ClassName
}

// ProctorID returns the room's proctor. Immutable.
func (a *Actor) ProctorID() string {
	return a.meta.ProctorID
}

// RequestToJoin records a participant's intent to join and notifies proctors.
// Participants holding a standing class permit skip the request phase: the
// request is answered with an immediate permit. Returns the participant's
// current progress state.
func (a *Actor) RequestToJoin(participantID, displayName, externalStudentID string) (types.ProgressState, error) {
	var state types.ProgressState
	var opErr error
	err := a.do(func() {
		if a.meta.Lifecycle == types.LifecycleEnded {
			opErr = types.ErrInvalidState
			return
		}
		if session, ok := a.roster.get(participantID); ok {
			state = session.ProgressState
			return
		}
		if a.admission.hasStanding(participantID) {
			state = types.ProgressPermitted
			a.emit(types.EventJoinPermitted, &types.JoinRequest{
				ParticipantID: participantID,
				DisplayName:   displayName,
				RequestedAt:   a.clock.Now(),
			})
			return
		}
		req, isNew := a.admission.request(participantID, displayName, a.clock.Now())
		state = types.ProgressRequested
		if isNew {
			a.emit(types.EventJoinRequested, req)
		}
	})
	if err != nil {
		return "", err
	}
	return state, opErr
}

// PermitJoin resolves a pending join request. Rejection returns the
// participant to unknown and retains nothing. Decisions are serialized on the
// actor queue: the second of two concurrent decisions for one participant
// finds no pending request and is a no-op.
func (a *Actor) PermitJoin(participantID string, accept bool) error {
	var opErr error
	err := a.do(func() {
		if a.meta.Lifecycle == types.LifecycleEnded {
			opErr = types.ErrInvalidState
			return
		}
		req, decided := a.admission.decide(participantID, accept)
		if !decided {
			return
		}
		if accept {
			a.emit(types.EventJoinPermitted, req)
		} else {
			a.emit(types.EventJoinRejected, req)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Join admits a permitted participant onto the roster. Joining requires a
// granted permit or a standing class permit; a repeated join is a no-op
// returning the existing roster entry.
func (a *Actor) Join(participantID, displayName, externalStudentID string) (*types.ParticipantSession, error) {
	var session *types.ParticipantSession
	var opErr error
	err := a.do(func() {
		if a.meta.Lifecycle == types.LifecycleEnded {
			opErr = types.ErrInvalidState
			return
		}
		if existing, ok := a.roster.get(participantID); ok {
			copied := *existing
			session = &copied
			return
		}
		if !a.admission.mayJoin(participantID) {
			opErr = ErrNotPermitted
			return
		}
		added, isNew := a.roster.add(participantID, displayName, externalStudentID, a.clock.Now())
		copied := *added
		session = &copied
		if isNew {
			a.emit(types.EventParticipantUpdated, &copied)
		}
	})
	if err != nil {
		return nil, err
	}
	return session, opErr
}

// StartExam establishes the synchronized exam window. Valid while the room is
// open for joining, in which case it transitions the room to in_progress
// atomically with window creation; calling it again re-broadcasts the
// existing window without recomputing the end time. Starting with more joined
// participants than the class enrollment is rejected unless the proctor
// confirms the oversubscription explicitly.
func (a *Actor) StartExam(proposedStart time.Time, confirmOversubscribed bool) (types.ExamWindow, error) {
	var window types.ExamWindow
	var opErr error
	err := a.do(func() {
		switch a.meta.Lifecycle {
		case types.LifecycleOpenForJoin:
			if size := a.admission.classSize(); size > 0 && a.roster.joinedCount() > size && !confirmOversubscribed {
				opErr = ErrOversubscribed
				return
			}
			w, started := a.timing.start(proposedStart)
			window = w
			if started {
				a.meta.Lifecycle = types.LifecycleInProgress
				a.meta.Window = &w
				log.Printf("Exam started: room=%s start=%s end=%s", a.meta.Code,
					w.StartTime.Format(time.RFC3339), w.EndTime.Format(time.RFC3339))
			}
			a.emit(types.EventExamStarted, w)
		case types.LifecycleInProgress:
			w, _ := a.timing.current()
			window = w
			a.emit(types.EventExamStarted, w)
		default:
			opErr = types.ErrInvalidState
		}
	})
	if err != nil {
		return types.ExamWindow{}, err
	}
	return window, opErr
}

// ReportProgress records the participant's current question index. The first
// report moves the participant from joined to in_progress; reports after a
// terminal submission change nothing.
func (a *Actor) ReportProgress(participantID string, questionIndex int) error {
	var opErr error
	err := a.do(func() {
		session, uerr := a.roster.updateProgress(participantID, questionIndex)
		if uerr != nil {
			opErr = uerr
			return
		}
		copied := *session
		a.emit(types.EventParticipantUpdated, &copied)
	})
	if err != nil {
		return err
	}
	return opErr
}

// RecordViolation appends an integrity violation for the participant.
func (a *Actor) RecordViolation(participantID, kind string) error {
	var opErr error
	err := a.do(func() {
		session, verr := a.roster.recordViolation(participantID, kind, a.clock.Now())
		if verr != nil {
			opErr = verr
			return
		}
		copied := *session
		a.emit(types.EventParticipantUpdated, &copied)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Submit marks a participant's own submission. Idempotent.
func (a *Actor) Submit(participantID string) error {
	return a.submit(participantID, types.SubmitSelf)
}

// ForceSubmit marks a proctor-forced submission for one participant.
// Idempotent: forcing an already-submitted participant is a no-op.
func (a *Actor) ForceSubmit(participantID string) error {
	return a.submit(participantID, types.SubmitForced)
}

func (a *Actor) submit(participantID string, cause types.SubmitCause) error {
	var opErr error
	err := a.do(func() {
		session, changed, serr := a.roster.markSubmitted(participantID, cause)
		if serr != nil {
			opErr = serr
			return
		}
		if changed {
			copied := *session
			a.emit(types.EventParticipantSubmitted, &copied)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// ForceSubmitAll force-submits every participant on the roster. The roster is
// snapshotted at invocation time so participants joining mid-broadcast are
// not processed. Returns the number of participants newly submitted; running
// it twice in a row changes nothing and returns no error.
func (a *Actor) ForceSubmitAll() (int, error) {
	var submitted int
	err := a.do(func() {
		submitted = a.forceSubmitAllLocked()
	})
	return submitted, err
}

// forceSubmitAllLocked runs inside the command loop.
func (a *Actor) forceSubmitAllLocked() int {
	submitted := 0
	for _, id := range a.roster.ids() {
		session, changed, err := a.roster.markSubmitted(id, types.SubmitForced)
		if err != nil || !changed {
			continue
		}
		submitted++
		copied := *session
		a.emit(types.EventParticipantSubmitted, &copied)
	}
	return submitted
}

// EndExam terminates the room's exam: force-submit every remaining
// participant, then persist the session history record. Ending before the
// exam started is a valid degenerate path producing a zero-duration record.
// A persistence failure leaves the lifecycle unchanged so the proctor can
// retry the whole end-exam unit; forced submissions already applied are kept,
// they are idempotent and safe to re-apply. Only after this returns nil may
// the registry delete the room.
func (a *Actor) EndExam(ctx context.Context) (*types.SessionHistoryRecord, error) {
	var record *types.SessionHistoryRecord
	var opErr error
	err := a.do(func() {
		switch a.meta.Lifecycle {
		case types.LifecycleOpenForJoin, types.LifecycleInProgress:
		default:
			opErr = types.ErrInvalidState
			return
		}

		a.forceSubmitAllLocked()

		window, started := a.timing.current()
		if !started {
			// Cancelled before starting: representable as a zero-duration window.
			now := a.clock.Now()
			window = types.ExamWindow{StartTime: now, EndTime: now}
		}
		rec := &types.SessionHistoryRecord{
			ID:        uuid.New().String(),
			TestTitle: a.meta.TestTitle,
			ClassName: a.meta.ClassName,
			ClassID:   a.meta.ClassID,
			RoomCode:  a.meta.Code,
			ProctorID: a.meta.ProctorID,
			StartTime: window.StartTime,
			EndTime:   window.EndTime,
		}

		// The single blocking persistence step in a room's life. It runs on
		// this room's loop only; other rooms are unaffected.
		if perr := a.directory.SaveSessionHistory(ctx, rec); perr != nil {
			log.Printf("End exam persistence failed: room=%s err=%v", a.meta.Code, perr)
			opErr = fmt.Errorf("%w: %v", types.ErrPersistenceFailure, perr)
			return
		}

		a.meta.Lifecycle = types.LifecycleEnded
		record = rec
		a.emit(types.EventRoomEnded, rec)
		log.Printf("Exam ended: room=%s participants=%d", a.meta.Code, a.roster.joinedCount())
	})
	if err != nil {
		return nil, err
	}
	return record, opErr
}

// SetConnectionState flips a roster participant's connection state.
// Disconnects cancel nothing: progress state survives and the participant
// resumes by reconnecting and requesting a snapshot. Unknown participants
// (pending requesters, observers) are ignored.
func (a *Actor) SetConnectionState(participantID string, connected bool) error {
	return a.do(func() {
		session, ok := a.roster.get(participantID)
		if !ok {
			return
		}
		if connected {
			session.ConnectionState = types.ConnectionConnected
		} else {
			session.ConnectionState = types.ConnectionDisconnected
		}
		copied := *session
		a.emit(types.EventParticipantUpdated, &copied)
	})
}

// Snapshot returns a deep copy of the room's committed state: metadata,
// window, roster and pending join requests.
func (a *Actor) Snapshot() (*types.RoomSnapshot, error) {
	var snap *types.RoomSnapshot
	err := a.do(func() {
		snap = a.snapshotLocked()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *Actor) snapshotLocked() *types.RoomSnapshot {
	meta := a.meta
	if a.meta.Window != nil {
		w := *a.meta.Window
		meta.Window = &w
	}
	return &types.RoomSnapshot{
		Room:         meta,
		Participants: a.roster.snapshot(),
		PendingJoins: a.admission.pendingRequests(),
	}
}

// Summary returns the listing shape for class dashboards.
func (a *Actor) Summary() (types.RoomSummary, error) {
	var summary types.RoomSummary
	err := a.do(func() {
		summary = types.RoomSummary{
			Code:             a.meta.Code,
			ClassName:        a.meta.ClassName,
			TestTitle:        a.meta.TestTitle,
			Lifecycle:        a.meta.Lifecycle,
			ParticipantCount: a.roster.joinedCount(),
			CreatedAt:        a.meta.CreatedAt,
		}
	})
	return summary, err
}

// Lifecycle returns the room's current lifecycle state.
func (a *Actor) Lifecycle() (types.RoomLifecycle, error) {
	var lc types.RoomLifecycle
	err := a.do(func() {
		lc = a.meta.Lifecycle
	})
	return lc, err
}

// RunWatchdog force-submits the whole roster once the exam deadline passes.
// The deadline itself is advisory; this is the optional automated policy on
// top of it, off by default. Blocks until ctx is cancelled or the actor
// stops, so callers run it on its own goroutine.
func (a *Actor) RunWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var expired bool
			err := a.do(func() {
				expired = a.meta.Lifecycle == types.LifecycleInProgress && a.timing.isExpired(a.clock.Now())
			})
			if err != nil {
				return
			}
			if expired {
				if n, err := a.ForceSubmitAll(); err == nil && n > 0 {
					log.Printf("Watchdog force-submitted %d participants: room=%s", n, a.meta.Code)
				}
			}
		case <-ctx.Done():
			return
		case <-a.quit:
			return
		}
	}
}

// emit broadcasts an outbound event. Runs inside the command loop.
func (a *Actor) emit(kind types.EventKind, payload interface{}) {
	if a.broadcast == nil {
		return
	}
	a.broadcast(types.NewOutboundEvent(kind, a.meta.Code, payload))
}
