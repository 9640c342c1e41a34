package types

import (
	"time"
)

// RoomLifecycle is the state of a room's exam session state machine.
// Transitions are strictly ordered: created -> open_for_join -> in_progress -> ended.
// The single permitted shortcut is open_for_join -> ended, for a proctor
// cancelling an exam that never started.
type RoomLifecycle string

const (
	LifecycleCreated     RoomLifecycle = "created"
	LifecycleOpenForJoin RoomLifecycle = "open_for_join"
	LifecycleInProgress  RoomLifecycle = "in_progress"
	LifecycleEnded       RoomLifecycle = "ended"
)

// ProgressState tracks a participant's position in the admission and exam flow.
// submitted and force_submitted are terminal within a room.
type ProgressState string

const (
	ProgressRequested      ProgressState = "requested"
	ProgressPermitted      ProgressState = "permitted"
	ProgressJoined         ProgressState = "joined"
	ProgressInProgress     ProgressState = "in_progress"
	ProgressSubmitted      ProgressState = "submitted"
	ProgressForceSubmitted ProgressState = "force_submitted"
)

// ConnectionState is tracked separately from ProgressState so that a
// disconnected participant keeps their exam progress and can resume.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// SubmitCause distinguishes a participant's own submission from a
// proctor-forced one.
type SubmitCause string

const (
	SubmitSelf   SubmitCause = "self"
	SubmitForced SubmitCause = "forced"
)

// Roles accepted on the session gateway.
const (
	RoleProctor     = "proctor"
	RoleParticipant = "participant"
)

// Room is the metadata of one live exam session. Mutable fields (Lifecycle,
// Window) are only ever touched by the room's own actor goroutine.
type Room struct {
	Code            string        `json:"code"`
	ProctorID       string        `json:"proctor_id"`
	TestID          string        `json:"test_id"`
	TestTitle       string        `json:"test_title"`
	DurationMinutes int           `json:"duration_minutes"`
	ClassID         string        `json:"class_id"`
	ClassName       string        `json:"class_name"`
	Lifecycle       RoomLifecycle `json:"lifecycle"`
	Window          *ExamWindow   `json:"window,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RoomSummary is the listing shape returned for class dashboards.
type RoomSummary struct {
	Code             string        `json:"code"`
	ClassName        string        `json:"class_name"`
	TestTitle        string        `json:"test_title"`
	Lifecycle        RoomLifecycle `json:"lifecycle"`
	ParticipantCount int           `json:"participant_count"`
	CreatedAt        time.Time     `json:"created_at"`
}

// TestInfo is the test metadata resolved from the directory service when a
// room is created.
type TestInfo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	ClassID         string `json:"class_id"`
	ClassName       string `json:"class_name"`
}

// ExamWindow is the synchronized time window of an exam. Immutable once set;
// every client converges on the same EndTime regardless of when it connects.
type ExamWindow struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// NewExamWindow computes the window for an exam starting at start with the
// given duration.
func NewExamWindow(start time.Time, durationMinutes int) ExamWindow {
	return ExamWindow{
		StartTime: start,
		EndTime:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}
}

// Remaining returns the time left in the window at now, floored at zero.
func (w ExamWindow) Remaining(now time.Time) time.Duration {
	if r := w.EndTime.Sub(now); r > 0 {
		return r
	}
	return 0
}

// IsExpired reports whether the window's deadline has passed at now.
// The deadline is advisory; acting on it is proctor (or watchdog) policy.
func (w ExamWindow) IsExpired(now time.Time) bool {
	return !now.Before(w.EndTime)
}

// ParticipantSession is one participant's live state within a room.
type ParticipantSession struct {
	ParticipantID        string          `json:"participant_id"`
	DisplayName          string          `json:"display_name"`
	ExternalStudentID    string          `json:"external_student_id,omitempty"`
	ConnectionState      ConnectionState `json:"connection_state"`
	ProgressState        ProgressState   `json:"progress_state"`
	CurrentQuestionIndex int             `json:"current_question_index"`
	ViolationCount       int             `json:"violation_count"`
	Submitted            bool            `json:"submitted"`
	JoinedAt             time.Time       `json:"joined_at"`
}

// IsTerminal reports whether the participant has reached a terminal state
// within the room.
func (p *ParticipantSession) IsTerminal() bool {
	return p.ProgressState == ProgressSubmitted || p.ProgressState == ProgressForceSubmitted
}

// ViolationEvent records one integrity violation. Append-only: violations
// only ever increment a participant's count.
type ViolationEvent struct {
	ParticipantID string    `json:"participant_id"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
}

// JoinRequest is a participant's transient intent to join, alive only between
// requestToJoin and the proctor's decision. Never persisted.
type JoinRequest struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	RequestedAt   time.Time `json:"requested_at"`
}

// SessionHistoryRecord is the durable record handed to the directory service
// when a room terminates. Constructed once; ownership passes to the directory,
// after which the room is torn down.
type SessionHistoryRecord struct {
	ID        string    `json:"id"`
	TestTitle string    `json:"test_title"`
	ClassName string    `json:"class_name"`
	ClassID   string    `json:"class_id"`
	RoomCode  string    `json:"room_code"`
	ProctorID string    `json:"proctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// RoomSnapshot is the full consistent view of a room broadcast to subscribers
// and served to reconnecting clients.
type RoomSnapshot struct {
	Room         Room                  `json:"room"`
	Participants []*ParticipantSession `json:"participants"`
	PendingJoins []*JoinRequest        `json:"pending_joins,omitempty"`
}
