package anomaly

import (
	"reflect"
	"testing"

	"campusguard/internal/model"
)

// trainingCorpus builds a weekday business-hours corpus with enough spread to
// calibrate a cutoff.
func trainingCorpus(n int) []model.LabeledAccessEvent {
	corpus := make([]model.LabeledAccessEvent, 0, n)
	for i := 0; i < n; i++ {
		corpus = append(corpus, model.LabeledAccessEvent{
			Features: model.FeatureVector{
				Hour:             8 + i%9,
				DayOfWeek:        1 + i%5,
				IsWeekend:        false,
				LocationsPerHour: 1 + i%2,
				MinutesSinceLast: 30 + (i*7)%90,
				BaseRiskScore:    0,
				Tier:             model.TierPublic,
			},
			IsAnomaly: false,
		})
	}
	return corpus
}

func TestTrainRejectsEmptyCorpus(t *testing.T) {
	if _, err := Train(nil, 0.2, 0.5, 5); err != ErrEmptyCorpus {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestTrainRejectsDegenerateCorpus(t *testing.T) {
	corpus := make([]model.LabeledAccessEvent, 20)
	for i := range corpus {
		corpus[i] = model.LabeledAccessEvent{
			Features: model.FeatureVector{Hour: 12, DayOfWeek: 3, LocationsPerHour: 1, MinutesSinceLast: 60},
		}
	}
	if _, err := Train(corpus, 0.2, 0.5, 5); err != ErrDegenerate {
		t.Fatalf("expected ErrDegenerate for constant corpus, got %v", err)
	}
}

func TestStatisticalDetectSeparatesOutliers(t *testing.T) {
	m, err := Train(trainingCorpus(50), 0.2, 0.5, 5)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	typical := model.FeatureVector{Hour: 12, DayOfWeek: 3, LocationsPerHour: 1, MinutesSinceLast: 60}
	v, err := m.Detect(typical)
	if err != nil {
		t.Fatalf("detect typical: %v", err)
	}
	if v.IsAnomaly {
		t.Fatalf("typical business-hours event flagged: %+v", v)
	}
	if v.AnomalyScore <= 0 {
		t.Fatalf("inlier decision function must be positive, got %g", v.AnomalyScore)
	}
	if !reflect.DeepEqual(v.Explanation, []model.Reason{model.ReasonNormalPattern}) {
		t.Fatalf("normal verdict must carry the normal-pattern reason, got %v", v.Explanation)
	}

	extreme := model.FeatureVector{
		Hour:             3,
		DayOfWeek:        6,
		IsWeekend:        true,
		LocationsPerHour: 10,
		MinutesSinceLast: 0,
		BaseRiskScore:    5,
	}
	v, err = m.Detect(extreme)
	if err != nil {
		t.Fatalf("detect extreme: %v", err)
	}
	if !v.IsAnomaly {
		t.Fatalf("extreme outlier not flagged: %+v", v)
	}
	if v.AnomalyScore >= 0 {
		t.Fatalf("outlier decision function must be negative, got %g", v.AnomalyScore)
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	m, err := Train(trainingCorpus(50), 0.2, 0.5, 5)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	score, err := m.Score(model.FeatureVector{Hour: 23, LocationsPerHour: 100, MinutesSinceLast: 0, BaseRiskScore: 50})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score < -1 || score > 1 {
		t.Fatalf("score outside [-1,1]: %g", score)
	}
}

func TestDetectLevelCutPoints(t *testing.T) {
	// Exercise the |score| level mapping directly through a synthetic model
	// whose distance is fully controlled by one feature.
	m, err := Train(trainingCorpus(50), 0.2, 0.5, 5)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	extreme := model.FeatureVector{Hour: 3, LocationsPerHour: 100, MinutesSinceLast: 0, BaseRiskScore: 50}
	v, err := m.Detect(extreme)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	// Distance far past the cutoff clamps to -1: critical with confidence 20.
	if v.AnomalyScore != -1 || v.RiskLevel != model.RiskCritical {
		t.Fatalf("expected clamped critical verdict, got %+v", v)
	}
	if v.Confidence != 20 {
		t.Fatalf("expected confidence 20 at |score| 1, got %g", v.Confidence)
	}
}

func TestExplainComposedFromCatalog(t *testing.T) {
	reasons := explain(model.FeatureVector{Hour: 3, LocationsPerHour: 8, MinutesSinceLast: 2}, true)
	want := []model.Reason{model.ReasonHighLocationRate, model.ReasonOffHours, model.ReasonRapidSuccession}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	reasons = explain(model.FeatureVector{Hour: 12, LocationsPerHour: 1, MinutesSinceLast: 60}, true)
	if !reflect.DeepEqual(reasons, []model.Reason{model.ReasonUnusualPattern}) {
		t.Fatalf("anomaly with no firing check must report the generic reason, got %v", reasons)
	}
}

func TestClusterDiagnosticsFindGroups(t *testing.T) {
	m, err := Train(trainingCorpus(60), 0.2, 5.0, 3)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if m.Clusters.Count < 1 {
		t.Fatalf("expected at least one behavior cluster, got %+v", m.Clusters)
	}
}

func TestDetectorFallbackEqualsRules(t *testing.T) {
	d := NewDetector(nil)
	if d.Trained() {
		t.Fatalf("nil model must select rule-based variant")
	}
	vectors := []model.FeatureVector{
		{Hour: 2, LocationsPerHour: 6, MinutesSinceLast: 2},
		{Hour: 12, LocationsPerHour: 1, MinutesSinceLast: 60},
		{Hour: 23, IsWeekend: true, Tier: model.TierRestricted, MinutesSinceLast: 1, LocationsPerHour: 5},
	}
	for _, fv := range vectors {
		got := d.Detect(fv)
		want := RuleVerdict(fv)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("fallback verdict diverges from rules for %+v:\n got %+v\nwant %+v", fv, got, want)
		}
		_, fellBack := d.DetectMode(fv)
		if !fellBack {
			t.Fatalf("untrained detector must report fallback")
		}
	}
}

func TestDetectorMalformedModelFallsBack(t *testing.T) {
	d := NewDetector(&StatisticalModel{}) // no statistics
	fv := model.FeatureVector{Hour: 2, LocationsPerHour: 6, MinutesSinceLast: 2}
	got, fellBack := d.DetectMode(fv)
	if !fellBack {
		t.Fatalf("malformed model must fall back")
	}
	if !reflect.DeepEqual(got, RuleVerdict(fv)) {
		t.Fatalf("fallback verdict diverges from rules: %+v", got)
	}
}
