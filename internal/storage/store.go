package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"campusguard/internal/config"
	"campusguard/internal/model"
)

// Store persists the audit trail (scans and consolidated verdicts), answers
// the two history queries from SQL, and loads the labeled training corpora.
// It is the database-backed "external store" collaborator; the engine only
// sees the narrow interfaces it needs.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveScan(ctx context.Context, ev model.ScanEvent) error
	SaveVerdict(ctx context.Context, v model.RiskVerdict) error
	MinutesSinceLastAccess(ctx context.Context, subjectID string, now time.Time) (int, bool, error)
	DistinctLocationsLastHour(ctx context.Context, subjectID string, now time.Time) (int, bool, error)
	LabeledAccessEvents(ctx context.Context) ([]model.LabeledAccessEvent, error)
	LabeledIncidents(ctx context.Context) ([]model.LabeledIncident, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func scanLabeledEvents(rows *sql.Rows) ([]model.LabeledAccessEvent, error) {
	defer rows.Close()
	var out []model.LabeledAccessEvent
	for rows.Next() {
		var ev model.LabeledAccessEvent
		var weekend, isAnomaly bool
		var tier string
		if err := rows.Scan(
			&ev.Features.Hour,
			&ev.Features.DayOfWeek,
			&weekend,
			&ev.Features.LocationsPerHour,
			&ev.Features.MinutesSinceLast,
			&ev.Features.BaseRiskScore,
			&tier,
			&isAnomaly,
		); err != nil {
			return nil, err
		}
		ev.Features.IsWeekend = weekend
		ev.Features.Tier = model.SensitivityTier(tier)
		ev.IsAnomaly = isAnomaly
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanLabeledIncidents(rows *sql.Rows) ([]model.LabeledIncident, error) {
	defer rows.Close()
	var out []model.LabeledIncident
	for rows.Next() {
		var inc model.LabeledIncident
		var weekend, occurred bool
		var tier string
		if err := rows.Scan(
			&inc.Context.Hour,
			&inc.Context.DayOfWeek,
			&weekend,
			&inc.Context.RecentFailedAttempts,
			&inc.Context.UnusualPatterns,
			&inc.Context.OffHoursActivity,
			&inc.Context.LocationsAccessed,
			&tier,
			&occurred,
		); err != nil {
			return nil, err
		}
		inc.Context.IsWeekend = weekend
		inc.Context.Tier = model.SensitivityTier(tier)
		inc.Occurred = occurred
		out = append(out, inc)
	}
	return out, rows.Err()
}
