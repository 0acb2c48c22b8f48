// Package alarm persists detections whose label is in the alarm set.
package alarm

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// Event is one alarmed detection
type Event struct {
	ID         int64
	RunID      string
	Channel    int
	FrameIndex uint64
	Label      string
	Score      float32
	Left       int
	Top        int
	Width      int
	Height     int
	At         time.Time
}

// EventFromTarget builds an event for a detection of a pipeline run
func EventFromTarget(runID string, t meta.DetectionTarget, at time.Time) Event {
	return Event{
		RunID:      runID,
		Channel:    t.Channel,
		FrameIndex: t.FrameIndex,
		Label:      t.Label,
		Score:      t.Score,
		Left:       t.Left,
		Top:        t.Top,
		Width:      t.Width,
		Height:     t.Height,
		At:         at,
	}
}

// Store is a SQLite alarm log
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open alarm store %s", path)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate alarm store")
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS alarms (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  channel INTEGER NOT NULL,
  frame_index INTEGER NOT NULL,
  label TEXT NOT NULL,
  score REAL NOT NULL,
  left_px INTEGER NOT NULL,
  top_px INTEGER NOT NULL,
  width_px INTEGER NOT NULL,
  height_px INTEGER NOT NULL,
  at_unix_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS alarms_run ON alarms(run_id, frame_index);
`)
	return err
}

// Record stores events in one transaction
func (s *Store) Record(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO alarms (run_id, channel, frame_index, label, score, left_px, top_px, width_px, height_px, at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Channel, int64(e.FrameIndex), e.Label, float64(e.Score),
			e.Left, e.Top, e.Width, e.Height, e.At.UnixMilli()); err != nil {
			return errors.Wrapf(err, "insert alarm for frame %d", e.FrameIndex)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Recent returns up to limit events, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, channel, frame_index, label, score, left_px, top_px, width_px, height_px, at_unix_ms
FROM alarms ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query alarms")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e     Event
			frame int64
			score float64
			at    int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Channel, &frame, &e.Label, &score,
			&e.Left, &e.Top, &e.Width, &e.Height, &at); err != nil {
			return nil, errors.Wrap(err, "scan alarm")
		}
		e.FrameIndex = uint64(frame)
		e.Score = float32(score)
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate alarms")
}

// Count returns the number of stored events for a run, or all events when
// runID is empty
func (s *Store) Count(ctx context.Context, runID string) (int, error) {
	var n int
	var err error
	if runID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alarms;").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alarms WHERE run_id=?;", runID).Scan(&n)
	}
	return n, errors.Wrap(err, "count alarms")
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
