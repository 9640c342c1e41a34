package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one variant of the closed gateway event set. Inbound
// kinds not in this set are rejected at decode time, so every dispatcher
// switch can be exhaustive.
type EventKind string

// Inbound event kinds (client -> coordinator).
const (
	EventCreateRoom       EventKind = "createRoom"
	EventRequestToJoin    EventKind = "requestToJoin"
	EventPermitJoin       EventKind = "permitJoin"
	EventJoin             EventKind = "join"
	EventStartExam        EventKind = "startExam"
	EventReportProgress   EventKind = "reportProgress"
	EventReportViolation  EventKind = "reportViolation"
	EventSubmit           EventKind = "submit"
	EventForceSubmit      EventKind = "forceSubmit"
	EventEndExam          EventKind = "endExam"
	EventDeleteRoom       EventKind = "deleteRoom"
	EventGetRoomSnapshot  EventKind = "getRoomSnapshot"
	EventListRoomsByClass EventKind = "listRoomsByClass"
)

// Outbound event kinds (coordinator -> room subscribers).
const (
	EventRoomCreated          EventKind = "roomCreated"
	EventJoinRequested        EventKind = "joinRequested"
	EventJoinPermitted        EventKind = "joinPermitted"
	EventJoinRejected         EventKind = "joinRejected"
	EventRoomSnapshot         EventKind = "roomSnapshot"
	EventExamStarted          EventKind = "examStarted"
	EventParticipantUpdated   EventKind = "participantUpdated"
	EventParticipantSubmitted EventKind = "participantSubmitted"
	EventRoomEnded            EventKind = "roomEnded"
	EventRoomDeleted          EventKind = "roomDeleted"
	EventRoomNotFound         EventKind = "roomNotFound"
	EventRoomList             EventKind = "roomList"
	EventError                EventKind = "error"
)

// ForceSubmitAll is the participant target that force-submits every
// participant on the roster.
const ForceSubmitAll = "ALL"

// InboundEvent is the envelope for every client event. Fields beyond Kind and
// RoomCode are populated per kind; Validate checks exactly the fields the kind
// requires.
type InboundEvent struct {
	Kind     EventKind `json:"kind"`
	RoomCode string    `json:"room_code,omitempty"`

	// Participant-scoped fields.
	ParticipantID     string `json:"participant_id,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	ExternalStudentID string `json:"external_student_id,omitempty"`

	// createRoom fields.
	ProctorID       string `json:"proctor_id,omitempty"`
	TestID          string `json:"test_id,omitempty"`
	ClassID         string `json:"class_id,omitempty"`
	TestTitle       string `json:"test_title,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`

	// permitJoin.
	Accept bool `json:"accept,omitempty"`

	// startExam. StartTime is RFC 3339; ConfirmOversubscribed acknowledges a
	// roster larger than the enrolled class.
	StartTime             string `json:"start_time,omitempty"`
	ConfirmOversubscribed bool   `json:"confirm_oversubscribed,omitempty"`

	// reportProgress / reportViolation.
	QuestionIndex int    `json:"question_index,omitempty"`
	ViolationKind string `json:"violation_kind,omitempty"`

	// listRoomsByClass.
	ClassName string `json:"class_name,omitempty"`
}

// DecodeInboundEvent parses and validates a raw gateway frame.
func DecodeInboundEvent(data []byte) (*InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ParsedStartTime returns the startExam timestamp. Call only after Validate.
func (e *InboundEvent) ParsedStartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, e.StartTime)
	return t
}

// Validate checks the envelope against its kind. The switch is exhaustive
// over the inbound kind set; anything else is ErrUnknownEventKind.
func (e *InboundEvent) Validate() error {
	switch e.Kind {
	case EventCreateRoom:
		if !IsValidRoomCode(e.RoomCode) {
			return ErrInvalidRoomCode
		}
		if !IsValidUserID(e.ProctorID) {
			return ErrInvalidUserID
		}
		if e.TestID == "" || e.ClassID == "" {
			return ErrInvalidEvent
		}
		if e.DurationMinutes < 0 || e.DurationMinutes > 600 {
			return ErrInvalidDuration
		}
		return nil

	case EventRequestToJoin:
		if err := e.requireRoomAndParticipant(); err != nil {
			return err
		}
		if len(e.DisplayName) < 1 || len(e.DisplayName) > 100 {
			return ErrInvalidDisplayName
		}
		return nil

	case EventPermitJoin, EventJoin, EventSubmit:
		return e.requireRoomAndParticipant()

	case EventStartExam:
		if !IsValidRoomCode(e.RoomCode) {
			return ErrInvalidRoomCode
		}
		if _, err := time.Parse(time.RFC3339, e.StartTime); err != nil {
			return ErrInvalidStartTime
		}
		return nil

	case EventReportProgress:
		if err := e.requireRoomAndParticipant(); err != nil {
			return err
		}
		if e.QuestionIndex < 0 {
			return ErrInvalidQuestionIndex
		}
		return nil

	case EventReportViolation:
		if err := e.requireRoomAndParticipant(); err != nil {
			return err
		}
		if !IsValidViolationKind(e.ViolationKind) {
			return ErrInvalidViolationKind
		}
		return nil

	case EventForceSubmit:
		if !IsValidRoomCode(e.RoomCode) {
			return ErrInvalidRoomCode
		}
		if e.ParticipantID != ForceSubmitAll && !IsValidUserID(e.ParticipantID) {
			return ErrInvalidUserID
		}
		return nil

	case EventEndExam, EventDeleteRoom, EventGetRoomSnapshot:
		if !IsValidRoomCode(e.RoomCode) {
			return ErrInvalidRoomCode
		}
		return nil

	case EventListRoomsByClass:
		if e.ClassName == "" {
			return ErrInvalidEvent
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
}

func (e *InboundEvent) requireRoomAndParticipant() error {
	if !IsValidRoomCode(e.RoomCode) {
		return ErrInvalidRoomCode
	}
	if !IsValidUserID(e.ParticipantID) {
		return ErrInvalidUserID
	}
	return nil
}

// OutboundEvent is the envelope broadcast to room subscribers. IDs are always
// assigned server-side.
type OutboundEvent struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	RoomCode  string      `json:"room_code,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOutboundEvent builds a broadcast envelope with a fresh server-side ID.
func NewOutboundEvent(kind EventKind, roomCode string, payload interface{}) *OutboundEvent {
	return &OutboundEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		RoomCode:  roomCode,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
