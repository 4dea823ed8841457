package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/codepair/conversation"
)

type Run struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var errText sql.NullString
	var finished sql.NullTime
	if err := sc.Scan(&r.ID, &r.Task, &r.Status, &errText, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.Error = errText.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// GetRunEvents returns a run's events in sequence order.
func (s *Store) GetRunEvents(ctx context.Context, runID string) ([]conversation.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []conversation.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev conversation.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Recorder is a conversation.EventSink that journals every event.
type Recorder struct {
	store *Store
}

func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) HandleEvent(ctx context.Context, ev conversation.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// The first event of a run carries its task.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, task) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET task = excluded.task WHERE excluded.task != ''`,
		ev.RunID, ev.Task); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, type, sender, payload, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Seq, string(ev.Type), ev.Sender, ev.Payload, string(data), ev.Timestamp); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	switch ev.Type {
	case conversation.EventError:
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET error = ? WHERE id = ?`, ev.Payload, ev.RunID); err != nil {
			return fmt.Errorf("record error: %w", err)
		}
	case conversation.EventDone:
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
			ev.Status, ev.Timestamp, ev.RunID); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return tx.Commit()
}
