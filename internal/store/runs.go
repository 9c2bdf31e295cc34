package store

import (
	"database/sql"
)

// CalcRun is one calculation submission for auditing.
type CalcRun struct {
	ID            int64
	SessionID     string
	WellNo        string
	Variant       string
	Path          sql.NullString // "batch" or "sequential"
	StartedAt     sql.NullTime
	FinishedAt    sql.NullTime
	RowsTotal     sql.NullInt64
	RowsRequested sql.NullInt64
	RowsComplete  sql.NullInt64
	StageFailures sql.NullInt64
	Success       bool
	ErrorKind     sql.NullString
	ErrorMessage  sql.NullString
}

// StartRun creates a run record and returns it.
func (s *Store) StartRun(sessionID, wellNo, variant string) (*CalcRun, error) {
	run := &CalcRun{
		SessionID: sessionID,
		WellNo:    wellNo,
		Variant:   variant,
		StartedAt: sql.NullTime{Time: s.now(), Valid: true},
	}

	result, err := s.db.Exec(`
		INSERT INTO calc_runs (session_id, well_no, variant, started_at, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.SessionID, run.WellNo, run.Variant, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun stores the outcome of run.
func (s *Store) CompleteRun(run *CalcRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.now(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE calc_runs SET
			path = ?,
			finished_at = ?,
			rows_total = ?,
			rows_requested = ?,
			rows_complete = ?,
			stage_failures = ?,
			success = ?,
			error_kind = ?,
			error_message = ?
		WHERE id = ?
	`, run.Path, run.FinishedAt, run.RowsTotal, run.RowsRequested, run.RowsComplete,
		run.StageFailures, run.Success, run.ErrorKind, run.ErrorMessage, run.ID)
	return err
}

// RecentRuns returns the latest runs, newest first. An empty wellNo
// matches every well.
func (s *Store) RecentRuns(wellNo string, limit int) ([]CalcRun, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, well_no, variant, path, started_at, finished_at,
		       rows_total, rows_requested, rows_complete, stage_failures,
		       success, error_kind, error_message
		FROM calc_runs
		WHERE ? = '' OR well_no = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, wellNo, wellNo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CalcRun
	for rows.Next() {
		var r CalcRun
		if err := rows.Scan(&r.ID, &r.SessionID, &r.WellNo, &r.Variant, &r.Path, &r.StartedAt,
			&r.FinishedAt, &r.RowsTotal, &r.RowsRequested, &r.RowsComplete, &r.StageFailures,
			&r.Success, &r.ErrorKind, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunHealthSummary aggregates runs per variant and path.
type RunHealthSummary struct {
	Variant       string
	Path          string
	TotalRuns     int
	SuccessRuns   int
	FailedRuns    int
	StageFailures int64
}

// GetRunHealth summarises runs started in the last N days.
func (s *Store) GetRunHealth(days int) ([]RunHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			variant,
			COALESCE(path, ''),
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END),
			COALESCE(SUM(stage_failures), 0)
		FROM calc_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY variant, path
		ORDER BY variant, path
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunHealthSummary
	for rows.Next() {
		var h RunHealthSummary
		if err := rows.Scan(&h.Variant, &h.Path, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns, &h.StageFailures); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
