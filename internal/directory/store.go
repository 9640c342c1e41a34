package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// Store is the embedded reference implementation of the directory service:
// test metadata, class enrollment, and terminated-session history backed by
// SQLite. The coordinator only depends on interfaces.DirectoryService;
// deployments with a real directory swap this out at wiring time.
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation pairs a write with its caller's result channel. All writes
// funnel through one goroutine; SQLite allows concurrent reads but a single
// writer avoids lock contention entirely.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens (and bootstraps, if needed) the directory database.
func NewStore(path string, maxConnections int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open directory database: %w", err)
	}

	if maxConnections <= 0 {
		maxConnections = 10
	}
	db.SetMaxOpenConns(maxConnections)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure directory schema: %w", err)
	}

	s := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// each failed write once after 5 seconds.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Directory write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("Directory write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			log.Println("Directory write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("directory store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("directory write timeout")
	case <-s.shutdown:
		return fmt.Errorf("directory store is shutting down")
	}
}

// ResolveTest returns test metadata for room creation.
func (s *Store) ResolveTest(ctx context.Context, testID string) (*types.TestInfo, error) {
	query := `
		SELECT id, title, duration_minutes, class_id, class_name
		FROM tests
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, testID)

	var info types.TestInfo
	err := row.Scan(&info.ID, &info.Title, &info.DurationMinutes, &info.ClassID, &info.ClassName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to query test: %w", err)
	}
	return &info, nil
}

// ClassRoster returns the participant IDs enrolled in a class.
func (s *Store) ClassRoster(ctx context.Context, classID string) ([]string, error) {
	query := `
		SELECT participant_id
		FROM class_members
		WHERE class_id = ?
		ORDER BY participant_id
	`
	rows, err := s.db.QueryContext(ctx, query, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class roster: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roster []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		roster = append(roster, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roster rows: %w", err)
	}
	if len(roster) == 0 {
		return nil, interfaces.ErrClassNotFound
	}
	return roster, nil
}

// SaveSessionHistory persists the final record of a terminated room. The
// insert is keyed on the record ID, so the retried end-exam unit can safely
// re-persist the same record.
func (s *Store) SaveSessionHistory(ctx context.Context, record *types.SessionHistoryRecord) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO session_history
				(id, test_title, class_name, class_id, room_code, proctor_id, start_time, end_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.ID,
			record.TestTitle,
			record.ClassName,
			record.ClassID,
			record.RoomCode,
			record.ProctorID,
			record.StartTime,
			record.EndTime,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session history: %w", err)
		}
		return nil
	})
}

// ListSessionHistory returns a class's persisted records, newest first.
func (s *Store) ListSessionHistory(ctx context.Context, classID string) ([]*types.SessionHistoryRecord, error) {
	query := `
		SELECT id, test_title, class_name, class_id, room_code, proctor_id, start_time, end_time
		FROM session_history
		WHERE class_id = ?
		ORDER BY end_time DESC
	`
	rows, err := s.db.QueryContext(ctx, query, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.SessionHistoryRecord
	for rows.Next() {
		var rec types.SessionHistoryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.TestTitle,
			&rec.ClassName,
			&rec.ClassID,
			&rec.RoomCode,
			&rec.ProctorID,
			&rec.StartTime,
			&rec.EndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// PutTest registers test metadata. Seed path for deployments and tests.
func (s *Store) PutTest(ctx context.Context, info *types.TestInfo) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO tests (id, title, duration_minutes, class_id, class_name)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query, info.ID, info.Title, info.DurationMinutes, info.ClassID, info.ClassName)
		if err != nil {
			return fmt.Errorf("failed to insert test: %w", err)
		}
		return nil
	})
}

// PutClassMember enrolls a participant in a class. Seed path.
func (s *Store) PutClassMember(ctx context.Context, classID, participantID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR IGNORE INTO class_members (class_id, participant_id)
			VALUES (?, ?)
		`
		_, err := db.ExecContext(ctx, query, classID, participantID)
		if err != nil {
			return fmt.Errorf("failed to insert class member: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("directory ping failed: %w", err)
	}
	if _, err := s.db.QueryContext(ctx, "SELECT COUNT(*) FROM session_history LIMIT 1"); err != nil {
		return fmt.Errorf("directory read test failed: %w", err)
	}
	return nil
}

// Close shuts the store down after the write loop drains.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close directory database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			class_id TEXT NOT NULL,
			class_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS class_members (
			class_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			PRIMARY KEY (class_id, participant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_history (
			id TEXT PRIMARY KEY,
			test_title TEXT NOT NULL,
			class_name TEXT NOT NULL,
			class_id TEXT NOT NULL,
			room_code TEXT NOT NULL,
			proctor_id TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_class_end ON session_history (class_id, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_class_members_class ON class_members (class_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
