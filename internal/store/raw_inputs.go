package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawInput is an archived export file.
type RawInput struct {
	ID                int64
	InstallationID    string
	Source            string
	Name              string
	FetchedAt         time.Time
	SizeBytes         int64
	PayloadCompressed []byte
	PayloadHash       string
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// StoreRawInput archives an export gzip-compressed. An identical payload is
// stored once; archiving it again returns the existing id.
func (s *Store) StoreRawInput(installationID, source, name string, payload []byte) (int64, error) {
	hash := hashPayload(payload)
	existing, err := s.GetRawInputByHash(hash)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_inputs
		(installation_id, source, name, fetched_at, size_bytes, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, installationID, source, name, time.Now().UTC(), len(payload), buf.Bytes(), hash)
	if err != nil {
		return 0, fmt.Errorf("insert raw input: %w", err)
	}
	return result.LastInsertId()
}

// GetRawInput retrieves and decompresses an archived export.
func (s *Store) GetRawInput(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_inputs WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetRawInputByHash looks an export up by the sha256 of its content.
func (s *Store) GetRawInputByHash(hash string) (*RawInput, error) {
	row := s.db.QueryRow(`
		SELECT id, installation_id, source, name, fetched_at, size_bytes, payload_compressed, payload_hash
		FROM raw_inputs WHERE payload_hash = ?
	`, hash)

	var r RawInput
	err := row.Scan(&r.ID, &r.InstallationID, &r.Source, &r.Name, &r.FetchedAt,
		&r.SizeBytes, &r.PayloadCompressed, &r.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RawInputStats contains storage statistics for the export archive.
type RawInputStats struct {
	TotalCount          int
	TotalSizeBytes      int64
	CompressedBytes     int64
	CountByInstallation map[string]int
}

func (s *Store) GetRawInputStats() (*RawInputStats, error) {
	stats := &RawInputStats{CountByInstallation: make(map[string]int)}

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_inputs
	`)
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes, &stats.CompressedBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT installation_id, COUNT(*) FROM raw_inputs GROUP BY installation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		stats.CountByInstallation[id] = count
	}
	return stats, rows.Err()
}

// CleanupOldRawInputs deletes archived exports older than retentionDays and
// returns how many were removed.
func (s *Store) CleanupOldRawInputs(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_inputs
		WHERE SUBSTR(fetched_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HasProcessedInput reports whether an identical export is archived and a
// successful run was computed from it. An export whose runs all failed is
// not processed and may be tried again.
func (s *Store) HasProcessedInput(payload []byte) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM report_runs r
		JOIN raw_inputs i ON i.id = r.raw_input_id
		WHERE i.payload_hash = ? AND r.success
	`, hashPayload(payload)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query processed input: %w", err)
	}
	return n > 0, nil
}
