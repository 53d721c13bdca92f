package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskOutput is one finished task's output as stored with a run.
type TaskOutput struct {
	Index  int    `json:"index"`
	Role   string `json:"role"`
	Output string `json:"output"`
}

// RunRecord is a successful run saved to history.
type RunRecord struct {
	ID                  string          `json:"id"`
	CallerID            string          `json:"caller_id"`
	RunID               string          `json:"run_id"`
	Topic               string          `json:"topic"`
	ResearcherGoal      string          `json:"researcher_goal,omitempty"`
	ResearcherBackstory string          `json:"researcher_backstory,omitempty"`
	WriterGoal          string          `json:"writer_goal,omitempty"`
	WriterBackstory     string          `json:"writer_backstory,omitempty"`
	EditorGoal          string          `json:"editor_goal,omitempty"`
	EditorBackstory     string          `json:"editor_backstory,omitempty"`
	FinalOutput         string          `json:"final_output"`
	Outputs             []TaskOutput    `json:"outputs,omitempty"`
	Detection           json.RawMessage `json:"detection,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

const runColumns = `id, caller_id, run_id, topic, researcher_goal, researcher_backstory,
    writer_goal, writer_backstory, editor_goal, editor_backstory,
    final_output, outputs_json, detection_json, created_at`

// SaveRun inserts rec and returns its new identifier.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return "", fmt.Errorf("encode outputs: %w", err)
	}
	var detection sql.NullString
	if len(rec.Detection) > 0 {
		detection = sql.NullString{String: string(rec.Detection), Valid: true}
	}

	id := newID()
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.CallerID, rec.RunID, rec.Topic,
		rec.ResearcherGoal, rec.ResearcherBackstory,
		rec.WriterGoal, rec.WriterBackstory,
		rec.EditorGoal, rec.EditorBackstory,
		rec.FinalOutput, string(outputs), detection, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.logger.Debug("saved run %s for caller %q as %s", rec.RunID, rec.CallerID, id)
	return id, nil
}

// LoadRun returns the record id owned by callerID.
func (s *Store) LoadRun(ctx context.Context, callerID, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ? AND caller_id = ?`, id, callerID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return rec, err
}

// ListRuns returns the caller's most recent runs, newest first. A
// non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, callerID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE caller_id = ? ORDER BY id DESC LIMIT ?`, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRun removes a record owned by callerID.
func (s *Store) DeleteRun(ctx context.Context, callerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ? AND caller_id = ?`, id, callerID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec       RunRecord
		outputs   sql.NullString
		detection sql.NullString
		created   string
	)
	err := row.Scan(&rec.ID, &rec.CallerID, &rec.RunID, &rec.Topic,
		&rec.ResearcherGoal, &rec.ResearcherBackstory,
		&rec.WriterGoal, &rec.WriterBackstory,
		&rec.EditorGoal, &rec.EditorBackstory,
		&rec.FinalOutput, &outputs, &detection, &created)
	if err != nil {
		return RunRecord{}, err
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &rec.Outputs); err != nil {
			return RunRecord{}, fmt.Errorf("decode outputs of %s: %w", rec.ID, err)
		}
	}
	if detection.Valid {
		rec.Detection = json.RawMessage(detection.String)
	}
	rec.CreatedAt = parseTimestamp(created)
	return rec, nil
}
