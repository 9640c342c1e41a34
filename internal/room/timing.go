package room

import (
	"time"

	"examroom/pkg/types"
)

// timing holds the room's exam window. The window is computed once and never
// recomputed; re-broadcasting an already-running exam must hand every client
// the identical end time. The controller never enforces the deadline itself.
type timing struct {
	durationMinutes int
	window          *types.ExamWindow
}

func newTiming(durationMinutes int) *timing {
	return &timing{durationMinutes: durationMinutes}
}

// start sets the window from the proposed start time. If the window already
// exists it is returned unchanged; started reports whether this call created
// it.
func (t *timing) start(proposed time.Time) (types.ExamWindow, bool) {
	if t.window != nil {
		return *t.window, false
	}
	w := types.NewExamWindow(proposed, t.durationMinutes)
	t.window = &w
	return w, true
}

// current returns a copy of the window, if set.
func (t *timing) current() (types.ExamWindow, bool) {
	if t.window == nil {
		return types.ExamWindow{}, false
	}
	return *t.window, true
}

// isExpired reports whether the deadline has passed at now. Advisory only;
// auto-actions are policy layered by the actor's watchdog, not by timing.
func (t *timing) isExpired(now time.Time) bool {
	return t.window != nil && t.window.IsExpired(now)
}
