package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("schedule not found")

// Store persists schedules as JSON documents in sqlite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Term      string    `json:"term"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS schedules (
  schedule_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  term TEXT NOT NULL DEFAULT '',
  body_json TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_updated_at ON schedules(updated_at);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save upserts the JSON document of one schedule, as produced by
// Schedule.MarshalJSON.
func (s *Store) Save(ctx context.Context, body json.RawMessage) error {
	var head struct{ ID, Name, Term string }
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	if head.ID == "" {
		return errors.New("schedule has no id")
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules(schedule_id, name, term, body_json, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(schedule_id) DO UPDATE SET
  name = excluded.name,
  term = excluded.term,
  body_json = excluded.body_json,
  updated_at = excluded.updated_at`,
		head.ID, head.Name, head.Term, string(body), now, now)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", head.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*Schedule, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body_json FROM schedules WHERE schedule_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sch := &Schedule{}
	if err := json.Unmarshal([]byte(body), sch); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return sch, nil
}

// List returns every schedule, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT schedule_id, name, term, updated_at
FROM schedules
ORDER BY updated_at DESC, schedule_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Term, &updated); err != nil {
			return nil, err
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
