package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"examroom/internal/clock"
	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// stubDirectory serves fixed test metadata and rosters.
type stubDirectory struct {
	mu      sync.Mutex
	tests   map[string]*types.TestInfo
	rosters map[string][]string
	saved   []*types.SessionHistoryRecord
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		tests:   make(map[string]*types.TestInfo),
		rosters: make(map[string][]string),
	}
}

func (s *stubDirectory) ResolveTest(ctx context.Context, testID string) (*types.TestInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.tests[testID]; ok {
		return info, nil
	}
	return nil, interfaces.ErrTestNotFound
}

func (s *stubDirectory) ClassRoster(ctx context.Context, classID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roster, ok := s.rosters[classID]; ok {
		return roster, nil
	}
	return nil, interfaces.ErrClassNotFound
}

func (s *stubDirectory) SaveSessionHistory(ctx context.Context, record *types.SessionHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, record)
	return nil
}

func (s *stubDirectory) ListSessionHistory(ctx context.Context, classID string) ([]*types.SessionHistoryRecord, error) {
	return nil, nil
}

func (s *stubDirectory) HealthCheck(ctx context.Context) error { return nil }
func (s *stubDirectory) Close() error                          { return nil }

func newTestRegistry(t *testing.T) (*Registry, *stubDirectory) {
	t.Helper()
	directory := newStubDirectory()
	directory.tests["test-1"] = &types.TestInfo{
		ID:              "test-1",
		Title:           "Midterm",
		DurationMinutes: 45,
		ClassID:         "class-1",
		ClassName:       "Math 101",
	}
	directory.rosters["class-1"] = []string{"s1", "s2"}

	reg := NewRegistry(directory, clock.NewSystem(), func(event *types.OutboundEvent) {}, Config{})
	t.Cleanup(reg.Close)
	return reg, directory
}

func TestCreateResolvesDirectoryMetadata(t *testing.T) {
	reg, _ := newTestRegistry(t)

	actor, err := reg.Create(context.Background(), CreateParams{
		Code:      "math-101-a7x9",
		ProctorID: "prof-1",
		TestID:    "test-1",
		// Supplied metadata conflicts with the directory; directory wins.
		TestTitle:       "Wrong Title",
		DurationMinutes: 10,
		ClassID:         "wrong-class",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, err := actor.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Room.TestTitle != "Midterm" || snap.Room.DurationMinutes != 45 {
		t.Errorf("Expected directory metadata, got %+v", snap.Room)
	}
	if snap.Room.ClassName != "Math 101" || snap.Room.ClassID != "class-1" {
		t.Errorf("Expected directory class, got %+v", snap.Room)
	}
	if snap.Room.Lifecycle != types.LifecycleOpenForJoin {
		t.Errorf("Expected open_for_join, got %s", snap.Room.Lifecycle)
	}
}

func TestCreateFallsBackToSuppliedMetadata(t *testing.T) {
	reg, _ := newTestRegistry(t)

	actor, err := reg.Create(context.Background(), CreateParams{
		Code:            "adhoc-b2k4",
		ProctorID:       "prof-1",
		TestID:          "unknown-test",
		TestTitle:       "Pop Quiz",
		DurationMinutes: 15,
		ClassID:         "unknown-class",
	})
	if err != nil {
		t.Fatalf("Create with unknown test failed: %v", err)
	}

	snap, _ := actor.Snapshot()
	if snap.Room.TestTitle != "Pop Quiz" || snap.Room.DurationMinutes != 15 {
		t.Errorf("Expected supplied metadata, got %+v", snap.Room)
	}

	// No roster means no standing permits: joining requires a permit.
	if _, err := actor.Join("s1", "Student One", ""); err == nil {
		t.Error("Expected join without permit to fail when no roster resolved")
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	reg, _ := newTestRegistry(t)

	params := CreateParams{Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1"}
	if _, err := reg.Create(context.Background(), params); err != nil {
		t.Fatalf("First create failed: %v", err)
	}
	_, err := reg.Create(context.Background(), params)
	if !errors.Is(err, types.ErrRoomExists) {
		t.Errorf("Expected ErrRoomExists, got %v", err)
	}
}

func TestCreateRejectsInvalidCode(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(context.Background(), CreateParams{Code: "bad code!", ProctorID: "prof-1", TestID: "test-1"})
	if !errors.Is(err, types.ErrInvalidRoomCode) {
		t.Errorf("Expected ErrInvalidRoomCode, got %v", err)
	}
}

func TestConcurrentCreateSameCode(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const attempts = 10
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := reg.Create(context.Background(), CreateParams{
				Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1",
			})
			errCh <- err
		}()
	}

	created := 0
	for i := 0; i < attempts; i++ {
		if err := <-errCh; err == nil {
			created++
		} else if !errors.Is(err, types.ErrRoomExists) {
			t.Errorf("Unexpected create error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("Expected exactly one successful create, got %d", created)
	}
	if reg.Count() != 1 {
		t.Errorf("Expected one live room, got %d", reg.Count())
	}
}

func TestLookupAndExists(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if _, err := reg.Lookup("math-101-a7x9"); !errors.Is(err, types.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
	if reg.Exists("math-101-a7x9") {
		t.Error("Expected room not to exist")
	}

	reg.Create(context.Background(), CreateParams{Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1"})

	if _, err := reg.Lookup("math-101-a7x9"); err != nil {
		t.Errorf("Lookup failed: %v", err)
	}
	if !reg.Exists("math-101-a7x9") {
		t.Error("Expected room to exist")
	}
}

func TestListByClass(t *testing.T) {
	reg, directory := newTestRegistry(t)
	directory.tests["test-2"] = &types.TestInfo{
		ID: "test-2", Title: "Final", DurationMinutes: 90,
		ClassID: "class-2", ClassName: "Physics 201",
	}

	reg.Create(context.Background(), CreateParams{Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1"})
	reg.Create(context.Background(), CreateParams{Code: "math-101-b2k4", ProctorID: "prof-1", TestID: "test-1"})
	reg.Create(context.Background(), CreateParams{Code: "phys-201-c3m5", ProctorID: "prof-2", TestID: "test-2"})

	math := reg.ListByClass("Math 101")
	if len(math) != 2 {
		t.Errorf("Expected 2 Math 101 rooms, got %d", len(math))
	}
	physics := reg.ListByClass("Physics 201")
	if len(physics) != 1 || physics[0].Code != "phys-201-c3m5" {
		t.Errorf("Unexpected Physics 201 listing: %+v", physics)
	}
	if got := reg.ListByClass("Chemistry 301"); len(got) != 0 {
		t.Errorf("Expected empty listing, got %+v", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var dropped []string
	var mu sync.Mutex
	reg.SetOnDelete(func(roomCode string) {
		mu.Lock()
		dropped = append(dropped, roomCode)
		mu.Unlock()
	})

	actor, _ := reg.Create(context.Background(), CreateParams{Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1"})

	reg.Delete("math-101-a7x9")
	reg.Delete("math-101-a7x9") // second delete is a silent no-op
	reg.Delete("never-existed")

	if reg.Exists("math-101-a7x9") {
		t.Error("Expected room removed")
	}
	mu.Lock()
	if len(dropped) != 1 || dropped[0] != "math-101-a7x9" {
		t.Errorf("Expected teardown hook exactly once, got %v", dropped)
	}
	mu.Unlock()

	// The stopped actor rejects further operations.
	if _, err := actor.Snapshot(); err == nil {
		t.Error("Expected stopped actor to reject snapshot")
	}
}

func TestConcurrentDeletes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Create(context.Background(), CreateParams{Code: "math-101-a7x9", ProctorID: "prof-1", TestID: "test-1"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Delete("math-101-a7x9")
		}()
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Errorf("Expected no rooms after concurrent deletes, got %d", reg.Count())
	}
}

func TestManyRoomsOperateIndependently(t *testing.T) {
	reg, directory := newTestRegistry(t)

	const rooms = 8
	for i := 0; i < rooms; i++ {
		classID := fmt.Sprintf("class-n%d", i)
		testID := fmt.Sprintf("test-n%d", i)
		directory.mu.Lock()
		directory.tests[testID] = &types.TestInfo{
			ID: testID, Title: "Test", DurationMinutes: 30,
			ClassID: classID, ClassName: fmt.Sprintf("Class %d", i),
		}
		directory.rosters[classID] = []string{"s1"}
		directory.mu.Unlock()

		if _, err := reg.Create(context.Background(), CreateParams{
			Code:      fmt.Sprintf("room-n%d", i),
			ProctorID: "prof-1",
			TestID:    testID,
		}); err != nil {
			t.Fatalf("Create room %d failed: %v", i, err)
		}
	}

	// Drive every room's full lifecycle concurrently.
	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			code := fmt.Sprintf("room-n%d", n)
			actor, err := reg.Lookup(code)
			if err != nil {
				t.Errorf("Lookup %s failed: %v", code, err)
				return
			}
			actor.RequestToJoin("s1", "Student One", "")
			actor.Join("s1", "Student One", "")
			actor.StartExam(time.Now(), false)
			if _, err := actor.EndExam(context.Background()); err != nil {
				t.Errorf("EndExam %s failed: %v", code, err)
				return
			}
			reg.Delete(code)
		}(i)
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Errorf("Expected all rooms deleted, got %d", reg.Count())
	}
	directory.mu.Lock()
	saved := len(directory.saved)
	directory.mu.Unlock()
	if saved != rooms {
		t.Errorf("Expected %d history records, got %d", rooms, saved)
	}
}
