package engine

import (
	"context"
	"time"

	"campusguard/internal/model"
)

// Documented defaults substituted when history is missing or a context field
// is malformed.
const (
	DefaultMinutesSinceLast = 120
	DefaultLocationsPerHour = 1
	defaultHour             = 12
)

// HistoryProvider answers the two read-only history queries the feature
// builder needs. Implemented in memory by the history tracker and over SQL
// by the storage layer. The boolean reports whether the subject had any
// history at all.
type HistoryProvider interface {
	MinutesSinceLastAccess(ctx context.Context, subjectID string, now time.Time) (int, bool, error)
	DistinctLocationsLastHour(ctx context.Context, subjectID string, now time.Time) (int, bool, error)
}

// BuildFeatureVector is the pure construction seam between the core and its
// collaborators: given the event time, the two already-resolved history
// facts and the policy context, it derives the immutable feature vector.
// No I/O and fully deterministic.
func BuildFeatureVector(at time.Time, minutesSinceLast, locationsPerHour, baseRiskScore int, tier model.SensitivityTier) model.FeatureVector {
	wd := at.Weekday()
	return model.FeatureVector{
		Hour:             at.Hour(),
		DayOfWeek:        int(wd),
		IsWeekend:        wd == time.Saturday || wd == time.Sunday,
		LocationsPerHour: locationsPerHour,
		MinutesSinceLast: minutesSinceLast,
		BaseRiskScore:    baseRiskScore,
		Tier:             tier,
	}
}

// resolveHistory fetches the two history facts, substituting the documented
// defaults when the subject has no history or the provider fails.
func resolveHistory(ctx context.Context, h HistoryProvider, subjectID string, now time.Time) (minutesSinceLast, locationsPerHour int) {
	minutesSinceLast = DefaultMinutesSinceLast
	locationsPerHour = DefaultLocationsPerHour
	if h == nil {
		return
	}
	if v, ok, err := h.MinutesSinceLastAccess(ctx, subjectID, now); err == nil && ok {
		minutesSinceLast = v
	}
	if v, ok, err := h.DistinctLocationsLastHour(ctx, subjectID, now); err == nil && ok {
		locationsPerHour = v
	}
	return
}

// NormalizeIncidentContext substitutes documented defaults for malformed
// fields rather than failing the request.
func NormalizeIncidentContext(c model.IncidentContext) model.IncidentContext {
	if c.Hour < 0 || c.Hour > 23 {
		c.Hour = defaultHour
	}
	if c.DayOfWeek < 0 || c.DayOfWeek > 6 {
		c.DayOfWeek = 0
	}
	if c.RecentFailedAttempts < 0 {
		c.RecentFailedAttempts = 0
	}
	if c.UnusualPatterns < 0 {
		c.UnusualPatterns = 0
	}
	if c.OffHoursActivity < 0 {
		c.OffHoursActivity = 0
	}
	if c.LocationsAccessed < 0 {
		c.LocationsAccessed = 0
	}
	if c.Tier == "" {
		c.Tier = model.TierPublic
	}
	return c
}
