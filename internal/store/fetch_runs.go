package store

import (
	"context"
	"database/sql"
	"time"
)

// FetchRun represents a single poller cycle for auditing.
type FetchRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	LocationID        string
	Trigger           string // "timer", "manual", "startup"
	State             sql.NullString
	Attempts          sql.NullInt64
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(ctx context.Context, locationID, trigger string) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt:  time.Now().UTC(),
		LocationID: locationID,
		Trigger:    trigger,
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_runs (started_at, location_id, trigger_kind, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.LocationID, run.Trigger)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteFetchRun updates the fetch run with results.
func (s *Store) CompleteFetchRun(ctx context.Context, run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE fetch_runs SET
			finished_at = ?,
			state = ?,
			attempts = ?,
			http_status = ?,
			response_size_bytes = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.State, run.Attempts, run.HTTPStatus, run.ResponseSizeBytes,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentFetchRuns returns the most recent fetch runs, newest first.
func (s *Store) RecentFetchRuns(ctx context.Context, limit int) ([]FetchRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, location_id, trigger_kind, state,
			   attempts, http_status, response_size_bytes, success, error_message
		FROM fetch_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.LocationID, &r.Trigger, &r.State,
			&r.Attempts, &r.HTTPStatus, &r.ResponseSizeBytes, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FetchHealthSummary counts fetch runs per day and outcome.
type FetchHealthSummary struct {
	Date        string
	TotalRuns   int
	SuccessRuns int
	CachedRuns  int
	NoDataRuns  int
}

// GetFetchHealth returns per-day fetch health for the last N days.
func (s *Store) GetFetchHealth(ctx context.Context, days int) ([]FetchHealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN state = 'using_cache' THEN 1 ELSE 0 END) as cached_runs,
			SUM(CASE WHEN state = 'no_data' THEN 1 ELSE 0 END) as no_data_runs
		FROM fetch_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date
		ORDER BY date DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchHealthSummary
	for rows.Next() {
		var h FetchHealthSummary
		if err := rows.Scan(&h.Date, &h.TotalRuns, &h.SuccessRuns, &h.CachedRuns, &h.NoDataRuns); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
