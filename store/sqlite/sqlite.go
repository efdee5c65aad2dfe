// Package sqlite implements store.Store and ledger.Store using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/model"
	"github.com/codeloom/codeloom/store"
)

// Store manages message, event, and step-record persistence in SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ store.Store  = (*Store)(nil)
	_ ledger.Store = (*Store)(nil)
)

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			run_id     TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_project_id
			ON messages(project_id);

		CREATE INDEX IF NOT EXISTS idx_messages_run_id
			ON messages(run_id);

		CREATE TABLE IF NOT EXISTS fragments (
			message_id  INTEGER PRIMARY KEY,
			title       TEXT NOT NULL,
			files       TEXT NOT NULL,
			preview_url TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_run_events_run_id
			ON run_events(run_id);

		CREATE TABLE IF NOT EXISTS steps (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			name         TEXT NOT NULL,
			result       TEXT,
			error        TEXT NOT NULL DEFAULT '',
			completed_at DATETIME NOT NULL,
			UNIQUE (run_id, name)
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Messages ---

// AppendMessage inserts a message (and its fragment, if any) and
// assigns the message ID.
func (s *Store) AppendMessage(msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO messages (project_id, run_id, role, type, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ProjectID, msg.RunID, msg.Role, msg.Type, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id

	if msg.Fragment != nil {
		files, err := json.Marshal(msg.Fragment.Files)
		if err != nil {
			return fmt.Errorf("encoding fragment files: %w", err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO fragments (message_id, title, files, preview_url)
			 VALUES (?, ?, ?, ?)`,
			msg.ID, msg.Fragment.Title, string(files), msg.Fragment.PreviewURL,
		); err != nil {
			return fmt.Errorf("inserting fragment: %w", err)
		}
	}
	return nil
}

// RecentMessages returns up to n messages of a project, newest first.
func (s *Store) RecentMessages(projectID string, n int) ([]*store.Message, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.project_id, m.run_id, m.role, m.type, m.content, m.created_at,
		        f.title, f.files, f.preview_url
		 FROM messages m
		 LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ?
		 ORDER BY m.id DESC
		 LIMIT ?`,
		projectID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesByRun returns the messages recorded for a run in insertion
// order.
func (s *Store) MessagesByRun(runID string) ([]*store.Message, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.project_id, m.run_id, m.role, m.type, m.content, m.created_at,
		        f.title, f.files, f.preview_url
		 FROM messages m
		 LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.run_id = ?
		 ORDER BY m.id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var msgs []*store.Message
	for rows.Next() {
		m := &store.Message{}
		var title, files, previewURL sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.RunID, &m.Role, &m.Type, &m.Content, &m.CreatedAt,
			&title, &files, &previewURL,
		); err != nil {
			return nil, err
		}
		if title.Valid {
			frag := &model.Fragment{
				Title:      title.String,
				PreviewURL: previewURL.String,
			}
			if err := json.Unmarshal([]byte(files.String), &frag.Files); err != nil {
				return nil, fmt.Errorf("decoding fragment files: %w", err)
			}
			m.Fragment = frag
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Events ---

// AddEvent inserts a run event and assigns its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.RunID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a run, optionally after a given event ID.
func (s *Store) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, type, data, created_at
		 FROM run_events
		 WHERE run_id = ? AND id > ?
		 ORDER BY id ASC`,
		runID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Step records (ledger.Store) ---

// GetStep returns the record for (runID, name), or nil if absent.
func (s *Store) GetStep(runID, name string) (*ledger.Record, error) {
	row := s.db.QueryRow(
		`SELECT id, run_id, name, result, error, completed_at
		 FROM steps WHERE run_id = ? AND name = ?`,
		runID, name,
	)
	rec, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// PutStep persists a record; the row ID provides first-write ordering.
func (s *Store) PutStep(rec *ledger.Record) error {
	result, err := s.db.Exec(
		`INSERT INTO steps (run_id, name, result, error, completed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Name, nullableResult(rec.Result), rec.Err, rec.CompletedAt,
	)
	if err != nil {
		return err
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.Seq = seq
	return nil
}

// DeleteStep removes a record so the step may run again.
func (s *Store) DeleteStep(runID, name string) error {
	_, err := s.db.Exec(`DELETE FROM steps WHERE run_id = ? AND name = ?`, runID, name)
	return err
}

// ListSteps returns all records for a run in first-write order.
func (s *Store) ListSteps(runID string) ([]*ledger.Record, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, name, result, error, completed_at
		 FROM steps WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ledger.Record
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStep(row scannable) (*ledger.Record, error) {
	rec := &ledger.Record{}
	var result sql.NullString
	if err := row.Scan(&rec.Seq, &rec.RunID, &rec.Name, &result, &rec.Err, &rec.CompletedAt); err != nil {
		return nil, err
	}
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	return rec, nil
}

func nullableResult(result json.RawMessage) any {
	if result == nil {
		return nil
	}
	return string(result)
}
