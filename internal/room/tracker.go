package room

import (
	"time"

	"examroom/pkg/types"
)

// tracker is the per-room roster of participant state. It is owned by the
// actor goroutine and must never be touched from outside the command loop.
type tracker struct {
	sessions   map[string]*types.ParticipantSession
	order      []string // insertion order for stable snapshots
	violations []types.ViolationEvent
}

func newTracker() *tracker {
	return &tracker{
		sessions: make(map[string]*types.ParticipantSession),
	}
}

// add inserts a roster entry in joined state. Adding an existing participant
// is a no-op returning the current entry, which makes join idempotent.
func (t *tracker) add(participantID, displayName, externalStudentID string, now time.Time) (*types.ParticipantSession, bool) {
	if existing, ok := t.sessions[participantID]; ok {
		return existing, false
	}
	session := &types.ParticipantSession{
		ParticipantID:     participantID,
		DisplayName:       displayName,
		ExternalStudentID: externalStudentID,
		ConnectionState:   types.ConnectionConnected,
		ProgressState:     types.ProgressJoined,
		JoinedAt:          now,
	}
	t.sessions[participantID] = session
	t.order = append(t.order, participantID)
	return session, true
}

func (t *tracker) get(participantID string) (*types.ParticipantSession, bool) {
	s, ok := t.sessions[participantID]
	return s, ok
}

// updateProgress records the participant's current question. The first
// progress report moves a joined participant to in_progress. Reports after a
// terminal state change nothing.
func (t *tracker) updateProgress(participantID string, questionIndex int) (*types.ParticipantSession, error) {
	session, ok := t.sessions[participantID]
	if !ok {
		return nil, types.ErrParticipantNotFound
	}
	if session.IsTerminal() {
		return session, nil
	}
	if session.ProgressState == types.ProgressJoined {
		session.ProgressState = types.ProgressInProgress
	}
	session.CurrentQuestionIndex = questionIndex
	return session, nil
}

// recordViolation appends a violation event and bumps the participant's
// count. Violations are never removed.
func (t *tracker) recordViolation(participantID, kind string, now time.Time) (*types.ParticipantSession, error) {
	session, ok := t.sessions[participantID]
	if !ok {
		return nil, types.ErrParticipantNotFound
	}
	t.violations = append(t.violations, types.ViolationEvent{
		ParticipantID: participantID,
		Timestamp:     now,
		Kind:          kind,
	})
	session.ViolationCount++
	return session, nil
}

// markSubmitted moves a participant to a terminal submitted state. Marking an
// already-submitted participant again is a no-op: force submission is
// broadcast to the whole roster and a participant may have self-submitted
// moments earlier.
func (t *tracker) markSubmitted(participantID string, cause types.SubmitCause) (*types.ParticipantSession, bool, error) {
	session, ok := t.sessions[participantID]
	if !ok {
		return nil, false, types.ErrParticipantNotFound
	}
	if session.IsTerminal() {
		return session, false, nil
	}
	if cause == types.SubmitForced {
		session.ProgressState = types.ProgressForceSubmitted
	} else {
		session.ProgressState = types.ProgressSubmitted
	}
	session.Submitted = true
	return session, true, nil
}

// ids returns the roster participant IDs in insertion order. Callers that
// iterate while mutating (force-submit ALL) rely on this being a copy taken
// at invocation time.
func (t *tracker) ids() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// joinedCount counts roster entries, used by the oversubscription guard.
func (t *tracker) joinedCount() int {
	return len(t.sessions)
}

// snapshot deep-copies the roster in insertion order so readers never observe
// a partial write.
func (t *tracker) snapshot() []*types.ParticipantSession {
	out := make([]*types.ParticipantSession, 0, len(t.order))
	for _, id := range t.order {
		copied := *t.sessions[id]
		out = append(out, &copied)
	}
	return out
}
