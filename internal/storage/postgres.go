package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campusguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/campusguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			subject_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			result TEXT,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_subject_ts ON scans(subject_id, ts)`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			subject_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			requires_additional_auth BOOLEAN NOT NULL,
			anomaly_detected BOOLEAN NOT NULL,
			anomaly_score DOUBLE PRECISION NOT NULL,
			anomaly_confidence DOUBLE PRECISION NOT NULL,
			fallback_mode BOOLEAN NOT NULL,
			factors_json JSONB NOT NULL,
			explanation_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON verdicts(ts)`,
		`CREATE TABLE IF NOT EXISTS training_access_events (
			id BIGSERIAL PRIMARY KEY,
			hour INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_weekend BOOLEAN NOT NULL,
			locations_per_hour INTEGER NOT NULL,
			minutes_since_last INTEGER NOT NULL,
			base_risk_score INTEGER NOT NULL,
			tier TEXT NOT NULL,
			is_anomaly BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS training_incidents (
			id BIGSERIAL PRIMARY KEY,
			hour INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_weekend BOOLEAN NOT NULL,
			failed_attempts INTEGER NOT NULL,
			unusual_patterns INTEGER NOT NULL,
			off_hours_activity INTEGER NOT NULL,
			locations_accessed INTEGER NOT NULL,
			tier TEXT NOT NULL,
			occurred BOOLEAN NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveScan(ctx context.Context, ev model.ScanEvent) error {
	if s.db == nil || ev.SubjectID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (ts, subject_id, location_id, result, source) VALUES ($1, $2, $3, $4, $5)`,
		ev.Timestamp.UTC(),
		ev.SubjectID,
		ev.LocationID,
		string(ev.Result),
		ev.Source,
	)
	return err
}

func (s *postgresStore) SaveVerdict(ctx context.Context, v model.RiskVerdict) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (ts, subject_id, location_id, risk_score, risk_level,
			requires_additional_auth, anomaly_detected, anomaly_score, anomaly_confidence,
			fallback_mode, factors_json, explanation_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.Timestamp.UTC(),
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

func (s *postgresStore) MinutesSinceLastAccess(ctx context.Context, subjectID string, now time.Time) (int, bool, error) {
	if s.db == nil || subjectID == "" {
		return 0, false, nil
	}
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM scans WHERE subject_id = $1 ORDER BY ts DESC LIMIT 1`, subjectID).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	minutes := int(now.Sub(ts).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return minutes, true, nil
}

func (s *postgresStore) DistinctLocationsLastHour(ctx context.Context, subjectID string, now time.Time) (int, bool, error) {
	if s.db == nil || subjectID == "" {
		return 0, false, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT location_id) FROM scans WHERE subject_id = $1 AND ts > $2`,
		subjectID, now.Add(-time.Hour).UTC()).Scan(&count)
	if err != nil {
		return 0, false, err
	}
	if count == 0 {
		return 0, false, nil
	}
	return count, true, nil
}

func (s *postgresStore) LabeledAccessEvents(ctx context.Context) ([]model.LabeledAccessEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, day_of_week, is_weekend, locations_per_hour, minutes_since_last,
			base_risk_score, tier, is_anomaly FROM training_access_events`)
	if err != nil {
		return nil, err
	}
	return scanLabeledEvents(rows)
}

func (s *postgresStore) LabeledIncidents(ctx context.Context) ([]model.LabeledIncident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, day_of_week, is_weekend, failed_attempts, unusual_patterns,
			off_hours_activity, locations_accessed, tier, occurred FROM training_incidents`)
	if err != nil {
		return nil, err
	}
	return scanLabeledIncidents(rows)
}
