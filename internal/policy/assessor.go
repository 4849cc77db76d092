package policy

import (
	"strings"
	"sync/atomic"

	"campusguard/internal/config"
	"campusguard/internal/model"
)

// Assessor scores access attempts from time and location context alone. It
// holds only configuration, never learned state, and never fails; it is the
// guaranteed-available baseline every consolidated verdict falls back to.
type Assessor struct {
	rules atomic.Value
}

type ruleSet struct {
	restrictedStart     int
	restrictedEnd       int
	offHoursScore       int
	highSecurityScore   int
	additionalAuthScore int
	highSecurity        map[string]struct{}
	tiers               map[string]model.SensitivityTier
}

func NewAssessor(cfg *config.Config) *Assessor {
	a := &Assessor{}
	a.rules.Store(buildRuleSet(cfg))
	return a
}

func (a *Assessor) UpdateConfig(cfg *config.Config) {
	a.rules.Store(buildRuleSet(cfg))
}

func buildRuleSet(cfg *config.Config) *ruleSet {
	rs := &ruleSet{
		restrictedStart:     cfg.Policy.RestrictedStartHour,
		restrictedEnd:       cfg.Policy.RestrictedEndHour,
		offHoursScore:       cfg.Policy.OffHoursScore,
		highSecurityScore:   cfg.Policy.HighSecurityScore,
		additionalAuthScore: cfg.Policy.AdditionalAuthScore,
	}
	if len(cfg.Policy.HighSecurityLocations) > 0 {
		rs.highSecurity = make(map[string]struct{}, len(cfg.Policy.HighSecurityLocations))
		for _, loc := range cfg.Policy.HighSecurityLocations {
			loc = normalizeLocation(loc)
			if loc == "" {
				continue
			}
			rs.highSecurity[loc] = struct{}{}
		}
	}
	if len(cfg.Policy.LocationTiers) > 0 {
		rs.tiers = make(map[string]model.SensitivityTier, len(cfg.Policy.LocationTiers))
		for loc, tier := range cfg.Policy.LocationTiers {
			loc = normalizeLocation(loc)
			if loc == "" {
				continue
			}
			rs.tiers[loc] = model.SensitivityTier(tier)
		}
	}
	return rs
}

func (a *Assessor) ruleSet() *ruleSet {
	if v := a.rules.Load(); v != nil {
		return v.(*ruleSet)
	}
	return buildRuleSet(config.DefaultConfig())
}

// Assess scores one access attempt. Risk level thresholds are fixed:
// <=1 low, <=3 medium, <=5 high, else critical.
func (a *Assessor) Assess(subjectID, locationID string, hour int) model.PolicyRiskAssessment {
	rs := a.ruleSet()
	_ = subjectID

	score := 0
	factors := make([]model.RiskFactor, 0, 2)

	if rs.inRestrictedHours(hour) {
		score += rs.offHoursScore
		factors = append(factors, model.FactorOffHoursAccess)
	}
	if rs.isHighSecurity(locationID) {
		score += rs.highSecurityScore
		factors = append(factors, model.FactorHighSecurityLocation)
	}

	return model.PolicyRiskAssessment{
		RiskScore:              score,
		RiskLevel:              LevelForScore(score),
		RiskFactors:            factors,
		RequiresAdditionalAuth: score >= rs.additionalAuthScore,
	}
}

// Tier reports the sensitivity tier configured for a location. Unconfigured
// locations are public unless they are in the high-security set, which
// implies staff_only.
func (a *Assessor) Tier(locationID string) model.SensitivityTier {
	rs := a.ruleSet()
	loc := normalizeLocation(locationID)
	if rs.tiers != nil {
		if tier, ok := rs.tiers[loc]; ok {
			return tier
		}
	}
	if rs.isHighSecurity(locationID) {
		return model.TierStaffOnly
	}
	return model.TierPublic
}

// LevelForScore maps a non-negative policy score onto the fixed level
// thresholds. Every score maps to exactly one level.
func LevelForScore(score int) model.RiskLevel {
	switch {
	case score <= 1:
		return model.RiskLow
	case score <= 3:
		return model.RiskMedium
	case score <= 5:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// inRestrictedHours reports whether hour falls strictly inside the
// configured window. The window wraps midnight when start > end; the default
// 22..6 flags 23:00 through 05:59 and leaves both boundary hours clear.
func (rs *ruleSet) inRestrictedHours(hour int) bool {
	if hour < 0 || hour > 23 {
		return false
	}
	start, end := rs.restrictedStart, rs.restrictedEnd
	if start == end {
		return false
	}
	if start < end {
		return hour > start && hour < end
	}
	return hour > start || hour < end
}

func (rs *ruleSet) isHighSecurity(locationID string) bool {
	if rs.highSecurity == nil {
		return false
	}
	_, ok := rs.highSecurity[normalizeLocation(locationID)]
	return ok
}

func normalizeLocation(loc string) string {
	return strings.ToUpper(strings.TrimSpace(loc))
}
