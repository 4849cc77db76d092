package anomaly

import "campusguard/internal/model"

const (
	ruleAnomalyThreshold = 3
	ruleHighThreshold    = 5
)

// RuleVerdict is the always-available rule-based strategy. It is used both as
// the fallback when no trained model is loaded and as an independently
// testable scorer in its own right.
func RuleVerdict(fv model.FeatureVector) model.AnomalyVerdict {
	score := 0
	reasons := make([]model.Reason, 0, 4)

	if fv.LocationsPerHour > 4 {
		score += 3
		reasons = append(reasons, model.ReasonRapidLocations)
	}
	if fv.Hour < 6 || fv.Hour > 22 {
		score += 2
		reasons = append(reasons, model.ReasonOffHours)
	}
	if fv.MinutesSinceLast < 5 {
		score += 2
		reasons = append(reasons, model.ReasonRapidSuccession)
	}
	if fv.IsWeekend && fv.Tier == model.TierRestricted {
		score += 1
		reasons = append(reasons, model.ReasonWeekendAccess)
	}

	isAnomaly := score >= ruleAnomalyThreshold

	level := model.RiskLow
	if score >= ruleHighThreshold {
		level = model.RiskHigh
	} else if score >= ruleAnomalyThreshold {
		level = model.RiskMedium
	}

	if len(reasons) == 0 {
		reasons = append(reasons, model.ReasonNormalPattern)
	}

	confidence := float64(score) * 20
	if confidence > 100 {
		confidence = 100
	}

	return model.AnomalyVerdict{
		IsAnomaly:    isAnomaly,
		AnomalyScore: float64(score),
		Confidence:   confidence,
		RiskLevel:    level,
		Explanation:  reasons,
	}
}
