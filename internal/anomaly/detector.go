package anomaly

import "campusguard/internal/model"

// Detector is the two-variant strategy behind the one Detect contract:
// a trained statistical model when one is loaded, the rule-based scorer
// otherwise. The variant is fixed at construction; fallback on a statistical
// failure is a per-call state transition, never an error to the caller.
type Detector struct {
	stat *StatisticalModel
}

// NewDetector builds a detector around stat. A nil stat selects the
// rule-based variant outright.
func NewDetector(stat *StatisticalModel) *Detector {
	return &Detector{stat: stat}
}

// Trained reports whether the statistical variant is active.
func (d *Detector) Trained() bool {
	return d != nil && d.stat != nil
}

// Detect never fails. When the statistical path is unavailable or errors,
// the result is exactly the rule-based verdict for the same features.
func (d *Detector) Detect(fv model.FeatureVector) model.AnomalyVerdict {
	v, _ := d.DetectMode(fv)
	return v
}

// DetectMode additionally reports whether the rule-based fallback produced
// the verdict, so callers can surface degraded operation.
func (d *Detector) DetectMode(fv model.FeatureVector) (model.AnomalyVerdict, bool) {
	if d != nil && d.stat != nil {
		if v, err := d.stat.Detect(fv); err == nil {
			return v, false
		}
	}
	return RuleVerdict(fv), true
}

// Model exposes the trained model for artifact persistence. Nil when the
// rule-based variant is active.
func (d *Detector) Model() *StatisticalModel {
	if d == nil {
		return nil
	}
	return d.stat
}
