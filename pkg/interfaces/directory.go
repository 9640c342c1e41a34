package interfaces

import (
	"context"

	"examroom/pkg/types"
)

// DirectoryService is the coordinator's view of the external directory
// (classes, tests, users, persisted history). The coordinator calls it at
// exactly two points in a room's life: resolving test metadata at creation,
// and persisting the final history record at termination. Everything else the
// directory does is out of scope here.
type DirectoryService interface {
	// ResolveTest returns the metadata for a test, including the owning class
	// and the exam duration that seeds the room's window.
	ResolveTest(ctx context.Context, testID string) (*types.TestInfo, error)

	// ClassRoster returns the participant IDs enrolled in a class. Enrollment
	// grants a standing permit (join without the request phase) and bounds the
	// oversubscription check at exam start.
	ClassRoster(ctx context.Context, classID string) ([]string, error)

	// SaveSessionHistory persists the final record of a terminated room.
	// This is the single blocking persistence step in a room's life; the
	// caller keeps the room alive and retries when it fails.
	SaveSessionHistory(ctx context.Context, record *types.SessionHistoryRecord) error

	// ListSessionHistory returns persisted records for a class, newest first.
	ListSessionHistory(ctx context.Context, classID string) ([]*types.SessionHistoryRecord, error)

	// HealthCheck validates directory connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases directory resources.
	Close() error
}
