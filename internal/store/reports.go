package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/models"
)

// ReportSummary is one row of the report history.
type ReportSummary struct {
	InstallationID   string
	InstallationName string
	PeriodKey        string
	Period           string
	RunID            string
	QualityFlags     sql.NullString
	GeneratedAt      time.Time
}

// SaveReport stores the metrics of a run, replacing any earlier report for
// the same installation and month along with its episodes.
func (s *Store) SaveReport(runID string, m *models.Metrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var flags sql.NullString
	if f := ingest.QualityFlagsToJSON(m.QualityFlags); f != "" {
		flags = sql.NullString{String: f, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO reports (installation_id, period_key, installation_name, period, run_id, metrics_json, quality_flags, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(installation_id, period_key) DO UPDATE SET
			installation_name = excluded.installation_name,
			period = excluded.period,
			run_id = excluded.run_id,
			metrics_json = excluded.metrics_json,
			quality_flags = excluded.quality_flags,
			generated_at = excluded.generated_at
	`, m.InstallationID, m.PeriodKey, m.InstallationName, m.Period, runID, string(payload), flags, m.GeneratedAt.UTC()); err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM episodes WHERE installation_id = ? AND period_key = ?`,
		m.InstallationID, m.PeriodKey); err != nil {
		return fmt.Errorf("clear episodes: %w", err)
	}
	for subsystem, eps := range m.Episodes {
		for _, e := range eps {
			if _, err := tx.Exec(`
				INSERT INTO episodes (installation_id, period_key, subsystem, channel, start_at, end_at, duration_seconds, unterminated)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, m.InstallationID, m.PeriodKey, subsystem, e.Channel, e.Start.UTC(), e.End.UTC(),
				int64(e.Duration/time.Second), e.Unterminated); err != nil {
				return fmt.Errorf("insert episode: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetReport returns the stored metrics for an installation and month, or
// nil if there is none.
func (s *Store) GetReport(installationID, periodKey string) (*models.Metrics, error) {
	var payload string
	err := s.db.QueryRow(`
		SELECT metrics_json FROM reports WHERE installation_id = ? AND period_key = ?
	`, installationID, periodKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.Metrics
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decode metrics %s/%s: %w", installationID, periodKey, err)
	}
	return &m, nil
}

// ListReports returns stored reports newest month first, optionally for
// one installation.
func (s *Store) ListReports(installationID string) ([]ReportSummary, error) {
	rows, err := s.db.Query(`
		SELECT installation_id, installation_name, period_key, period, run_id, quality_flags, generated_at
		FROM reports
		WHERE ? = '' OR installation_id = ?
		ORDER BY period_key DESC, installation_id
	`, installationID, installationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReportSummary
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.InstallationID, &r.InstallationName, &r.PeriodKey, &r.Period,
			&r.RunID, &r.QualityFlags, &r.GeneratedAt); err != nil {
			return nil, err
		}
		r.GeneratedAt = r.GeneratedAt.In(s.loc)
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetEpisodes returns the stored episodes of one report, ordered by start.
// An empty subsystem returns all of them.
func (s *Store) GetEpisodes(installationID, periodKey, subsystem string) ([]models.Episode, error) {
	rows, err := s.db.Query(`
		SELECT channel, start_at, end_at, duration_seconds, unterminated
		FROM episodes
		WHERE installation_id = ? AND period_key = ? AND (? = '' OR subsystem = ?)
		ORDER BY start_at, id
	`, installationID, periodKey, subsystem, subsystem)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Episode
	for rows.Next() {
		var e models.Episode
		var seconds int64
		if err := rows.Scan(&e.Channel, &e.Start, &e.End, &seconds, &e.Unterminated); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(seconds) * time.Second
		results = append(results, e)
	}
	return results, rows.Err()
}
