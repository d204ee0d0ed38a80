package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docport/docport/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS builds (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    tag TEXT NOT NULL,
    image_ref TEXT NOT NULL,
    image_id TEXT,
    recipe_digest TEXT NOT NULL,
    deps_digest TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    build_id TEXT,
    image_ref TEXT NOT NULL,
    port INTEGER NOT NULL,
    workers INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    started_at TEXT,
    stopped_at TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload TEXT,
    synced INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_unsynced ON events(synced) WHERE synced = 0;
`

// Store is the local SQLite database recording builds, instances, and the
// event log feeding the NATS publisher.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the docport database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "docport.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBuild inserts a new build row.
func (s *Store) RecordBuild(b *types.Build) error {
	_, err := s.db.Exec(
		`INSERT INTO builds (id, name, tag, image_ref, image_id, recipe_digest, deps_digest, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Tag, b.ImageRef, b.ImageID, b.RecipeDigest, b.DepsDigest,
		string(b.Status), b.Error, b.DurationMS, b.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return s.LogEvent("build."+string(b.Status), b)
}

// UpdateBuild updates the mutable fields of a build row.
func (s *Store) UpdateBuild(b *types.Build) error {
	_, err := s.db.Exec(
		`UPDATE builds SET image_id = ?, status = ?, error = ?, duration_ms = ? WHERE id = ?`,
		b.ImageID, string(b.Status), b.Error, b.DurationMS, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", b.ID, err)
	}
	return s.LogEvent("build."+string(b.Status), b)
}

// GetBuild returns a build by ID.
func (s *Store) GetBuild(id string) (*types.Build, error) {
	row := s.db.QueryRow(
		`SELECT id, name, tag, image_ref, image_id, recipe_digest, deps_digest, status, error, duration_ms, created_at
		 FROM builds WHERE id = ?`, id)
	return scanBuild(row)
}

// ListBuilds returns all builds, newest first.
func (s *Store) ListBuilds() ([]types.Build, error) {
	rows, err := s.db.Query(
		`SELECT id, name, tag, image_ref, image_id, recipe_digest, deps_digest, status, error, duration_ms, created_at
		 FROM builds ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []types.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	return builds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(row rowScanner) (*types.Build, error) {
	var b types.Build
	var status, createdAt string
	var imageID, errMsg sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.Tag, &b.ImageRef, &imageID, &b.RecipeDigest,
		&b.DepsDigest, &status, &errMsg, &b.DurationMS, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("build not found")
		}
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}
	b.Status = types.BuildStatus(status)
	b.ImageID = imageID.String
	b.Error = errMsg.String
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

// DeleteBuild removes a build row.
func (s *Store) DeleteBuild(id string) error {
	res, err := s.db.Exec(`DELETE FROM builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete build %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("build not found")
	}
	return s.LogEvent("build.removed", map[string]string{"buildID": id})
}

// RecordInstance inserts a new instance row.
func (s *Store) RecordInstance(inst *types.Instance) error {
	_, err := s.db.Exec(
		`INSERT INTO instances (id, build_id, image_ref, port, workers, status, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.BuildID, inst.ImageRef, inst.Port, inst.Workers,
		string(inst.Status), inst.Error, inst.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record instance: %w", err)
	}
	return s.LogEvent("instance."+string(inst.Status), inst)
}

// UpdateInstanceStatus moves an instance to a new lifecycle state.
func (s *Store) UpdateInstanceStatus(id string, status types.InstanceStatus, errMsg string) error {
	var stoppedAt interface{}
	if status == types.InstanceStatusStopped || status == types.InstanceStatusFailed {
		stoppedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`UPDATE instances SET status = ?, error = ?, stopped_at = COALESCE(?, stopped_at) WHERE id = ?`,
		string(status), errMsg, stoppedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", id, err)
	}
	return s.LogEvent("instance."+string(status), map[string]string{"instanceID": id, "error": errMsg})
}

// GetInstance returns an instance row by ID.
func (s *Store) GetInstance(id string) (*types.Instance, error) {
	row := s.db.QueryRow(
		`SELECT id, build_id, image_ref, port, workers, status, error, started_at
		 FROM instances WHERE id = ?`, id)

	var inst types.Instance
	var status string
	var buildID, errMsg, startedAt sql.NullString
	err := row.Scan(&inst.ID, &buildID, &inst.ImageRef, &inst.Port, &inst.Workers,
		&status, &errMsg, &startedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("instance %s not found", id)
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	inst.Status = types.InstanceStatus(status)
	inst.BuildID = buildID.String
	inst.Error = errMsg.String
	if startedAt.Valid {
		inst.StartedAt, _ = time.Parse(time.RFC3339, startedAt.String)
	}
	return &inst, nil
}

// LogEvent records a lifecycle event for NATS sync.
func (s *Store) LogEvent(eventType string, payload interface{}) error {
	data, _ := json.Marshal(payload)
	_, err := s.db.Exec(`INSERT INTO events (type, payload) VALUES (?, ?)`, eventType, string(data))
	return err
}

// Event represents an unsynced event.
type Event struct {
	ID        int64
	Type      string
	Payload   string
	CreatedAt string
}

// GetUnsyncedEvents returns events that haven't been published yet.
func (s *Store) GetUnsyncedEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, type, payload, created_at FROM events WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsSynced marks the given event IDs as published.
func (s *Store) MarkEventsSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE events SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
