package store

import (
	"database/sql"
	"time"
)

// ReportRun is the audit record of one report computation.
type ReportRun struct {
	ID             string
	InstallationID string
	Source         string // "file", "ftp"
	SourceName     sql.NullString
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	PeriodKey      sql.NullString
	RawInputID     sql.NullInt64
	RawSamples     sql.NullInt64
	GridSamples    sql.NullInt64
	Warnings       sql.NullInt64
	Success        bool
	ErrorMessage   sql.NullString
}

// StartReportRun records the start of a run under the given id.
func (s *Store) StartReportRun(id, installationID, source, sourceName string) (*ReportRun, error) {
	run := &ReportRun{
		ID:             id,
		InstallationID: installationID,
		Source:         source,
		StartedAt:      time.Now().UTC(),
	}
	if sourceName != "" {
		run.SourceName = sql.NullString{String: sourceName, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO report_runs (id, installation_id, source, source_name, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.InstallationID, run.Source, run.SourceName, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteReportRun updates the run with its outcome.
func (s *Store) CompleteReportRun(run *ReportRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE report_runs SET
			finished_at = ?,
			period_key = ?,
			raw_input_id = ?,
			raw_samples = ?,
			grid_samples = ?,
			warnings = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.PeriodKey, run.RawInputID, run.RawSamples, run.GridSamples,
		run.Warnings, run.Success, run.ErrorMessage, run.ID)
	return err
}

const runColumns = `id, installation_id, source, source_name, started_at, finished_at, period_key,
	raw_input_id, raw_samples, grid_samples, warnings, success, error_message`

func scanRun(sc interface{ Scan(...any) error }) (ReportRun, error) {
	var r ReportRun
	err := sc.Scan(&r.ID, &r.InstallationID, &r.Source, &r.SourceName, &r.StartedAt, &r.FinishedAt,
		&r.PeriodKey, &r.RawInputID, &r.RawSamples, &r.GridSamples, &r.Warnings, &r.Success, &r.ErrorMessage)
	return r, err
}

func (s *Store) GetReportRun(id string) (*ReportRun, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM report_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRecentRuns returns the latest runs, optionally for one installation.
func (s *Store) GetRecentRuns(installationID string, limit int) ([]ReportRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM report_runs
		WHERE ? = '' OR installation_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, installationID, installationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReportRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRecentRunErrors returns recent failed runs.
func (s *Store) GetRecentRunErrors(limit int) ([]ReportRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM report_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReportRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RunHealthSummary is a daily per-installation count of report runs.
type RunHealthSummary struct {
	Date           string `json:"date"`
	InstallationID string `json:"installation_id"`
	TotalRuns      int    `json:"total_runs"`
	SuccessRuns    int    `json:"success_runs"`
	FailedRuns     int    `json:"failed_runs"`
}

// GetRunHealth returns run health summaries for the last N days.
func (s *Store) GetRunHealth(days int) ([]RunHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			installation_id,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs
		FROM report_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, installation_id
		ORDER BY date DESC, installation_id
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunHealthSummary
	for rows.Next() {
		var h RunHealthSummary
		if err := rows.Scan(&h.Date, &h.InstallationID, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
