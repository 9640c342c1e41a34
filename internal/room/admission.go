package room

import (
	"time"

	"examroom/pkg/types"
)

// admission is the per-room two-phase join state: pending requests awaiting a
// proctor decision, and granted permits. Standing permits from class
// enrollment are held separately and never expire with a request. Owned by
// the actor goroutine.
type admission struct {
	pending  map[string]*types.JoinRequest
	order    []string // request arrival order for the proctor's queue
	permits  map[string]bool
	standing map[string]bool
}

func newAdmission(classRoster []string) *admission {
	standing := make(map[string]bool, len(classRoster))
	for _, id := range classRoster {
		standing[id] = true
	}
	return &admission{
		pending:  make(map[string]*types.JoinRequest),
		permits:  make(map[string]bool),
		standing: standing,
	}
}

// request records a participant's intent to join. A repeated request from the
// same participant refreshes nothing and reports notNew.
func (a *admission) request(participantID, displayName string, now time.Time) (*types.JoinRequest, bool) {
	if existing, ok := a.pending[participantID]; ok {
		return existing, false
	}
	req := &types.JoinRequest{
		ParticipantID: participantID,
		DisplayName:   displayName,
		RequestedAt:   now,
	}
	a.pending[participantID] = req
	a.order = append(a.order, participantID)
	return req, true
}

// decide resolves a pending request. Accept grants a permit; reject returns
// the participant to unknown and retains no state. Deciding a participant
// with no pending request is a no-op (the actor queue serializes decisions,
// so the second of two concurrent accepts lands here).
func (a *admission) decide(participantID string, accept bool) (*types.JoinRequest, bool) {
	req, ok := a.pending[participantID]
	if !ok {
		return nil, false
	}
	delete(a.pending, participantID)
	for i, id := range a.order {
		if id == participantID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	if accept {
		a.permits[participantID] = true
	}
	return req, true
}

// mayJoin reports whether the participant holds either a granted permit or a
// standing class-enrollment permit.
func (a *admission) mayJoin(participantID string) bool {
	return a.permits[participantID] || a.standing[participantID]
}

// hasStanding reports a standing class-enrollment permit.
func (a *admission) hasStanding(participantID string) bool {
	return a.standing[participantID]
}

// classSize is the enrollment count backing the oversubscription guard.
// Zero means the roster could not be resolved and the guard is skipped.
func (a *admission) classSize() int {
	return len(a.standing)
}

// pendingRequests copies the request queue in arrival order.
func (a *admission) pendingRequests() []*types.JoinRequest {
	out := make([]*types.JoinRequest, 0, len(a.order))
	for _, id := range a.order {
		copied := *a.pending[id]
		out = append(out, &copied)
	}
	return out
}
