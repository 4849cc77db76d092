package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"campusguard/internal/model"
)

// sqliteTimeLayout is fixed width (no trimmed fractional zeros) so the
// lexical ordering SQL applies to the TEXT column matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:campusguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			result TEXT,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_subject_ts ON scans(subject_id, ts)`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			requires_additional_auth INTEGER NOT NULL,
			anomaly_detected INTEGER NOT NULL,
			anomaly_score REAL NOT NULL,
			anomaly_confidence REAL NOT NULL,
			fallback_mode INTEGER NOT NULL,
			factors_json TEXT NOT NULL,
			explanation_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON verdicts(ts)`,
		`CREATE TABLE IF NOT EXISTS training_access_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hour INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_weekend INTEGER NOT NULL,
			locations_per_hour INTEGER NOT NULL,
			minutes_since_last INTEGER NOT NULL,
			base_risk_score INTEGER NOT NULL,
			tier TEXT NOT NULL,
			is_anomaly INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS training_incidents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hour INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_weekend INTEGER NOT NULL,
			failed_attempts INTEGER NOT NULL,
			unusual_patterns INTEGER NOT NULL,
			off_hours_activity INTEGER NOT NULL,
			locations_accessed INTEGER NOT NULL,
			tier TEXT NOT NULL,
			occurred INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveScan(ctx context.Context, ev model.ScanEvent) error {
	if s.db == nil || ev.SubjectID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (ts, subject_id, location_id, result, source) VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(sqliteTimeLayout),
		ev.SubjectID,
		ev.LocationID,
		string(ev.Result),
		ev.Source,
	)
	return err
}

func (s *sqliteStore) SaveVerdict(ctx context.Context, v model.RiskVerdict) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (ts, subject_id, location_id, risk_score, risk_level,
			requires_additional_auth, anomaly_detected, anomaly_score, anomaly_confidence,
			fallback_mode, factors_json, explanation_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Timestamp.UTC().Format(sqliteTimeLayout),
		v.SubjectID,
		v.LocationID,
		v.RiskScore,
		string(v.RiskLevel),
		v.RequiresAdditionalAuth,
		v.AnomalyDetected,
		v.AnomalyScore,
		v.AnomalyConfidence,
		v.FallbackMode,
		encodeJSON(v.RiskFactors),
		encodeJSON(v.Explanation),
	)
	return err
}

func (s *sqliteStore) MinutesSinceLastAccess(ctx context.Context, subjectID string, now time.Time) (int, bool, error) {
	if s.db == nil || subjectID == "" {
		return 0, false, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM scans WHERE subject_id = ? ORDER BY ts DESC LIMIT 1`, subjectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ts, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return 0, false, err
	}
	minutes := int(now.Sub(ts).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return minutes, true, nil
}

func (s *sqliteStore) DistinctLocationsLastHour(ctx context.Context, subjectID string, now time.Time) (int, bool, error) {
	if s.db == nil || subjectID == "" {
		return 0, false, nil
	}
	cutoff := now.Add(-time.Hour).UTC().Format(sqliteTimeLayout)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT location_id) FROM scans WHERE subject_id = ? AND ts > ?`,
		subjectID, cutoff).Scan(&count)
	if err != nil {
		return 0, false, err
	}
	if count == 0 {
		return 0, false, nil
	}
	return count, true, nil
}

func (s *sqliteStore) LabeledAccessEvents(ctx context.Context) ([]model.LabeledAccessEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, day_of_week, is_weekend, locations_per_hour, minutes_since_last,
			base_risk_score, tier, is_anomaly FROM training_access_events`)
	if err != nil {
		return nil, err
	}
	return scanLabeledEvents(rows)
}

func (s *sqliteStore) LabeledIncidents(ctx context.Context) ([]model.LabeledIncident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, day_of_week, is_weekend, failed_attempts, unusual_patterns,
			off_hours_activity, locations_accessed, tier, occurred FROM training_incidents`)
	if err != nil {
		return nil, err
	}
	return scanLabeledIncidents(rows)
}
