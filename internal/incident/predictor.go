package incident

import (
	"errors"
	"math"

	"campusguard/internal/model"
)

const featureCount = 9

var (
	ErrEmptyCorpus = errors.New("incident: training corpus is empty")
	ErrNotTrained  = errors.New("incident: model not trained")
	ErrMalformed   = errors.New("incident: malformed model parameters")
)

// Model is a linear scoring function over standardized incident features
// passed through a logistic squash. Weights are fit by plain gradient
// descent with a fixed epoch count and learning rate; deliberately simple
// and fully reproducible, not a black box.
type Model struct {
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	TrainedOn int `json:"trained_on"`
}

func featureRow(c model.IncidentContext) []float64 {
	weekend := 0.0
	if c.IsWeekend {
		weekend = 1.0
	}
	staffOnly := 0.0
	if c.Tier == model.TierStaffOnly || c.Tier == model.TierAdminOnly {
		staffOnly = 1.0
	}
	restricted := 0.0
	if c.Tier == model.TierRestricted {
		restricted = 1.0
	}
	return []float64{
		float64(c.Hour),
		float64(c.DayOfWeek),
		weekend,
		float64(c.RecentFailedAttempts),
		float64(c.UnusualPatterns),
		float64(c.OffHoursActivity),
		float64(c.LocationsAccessed),
		staffOnly,
		restricted,
	}
}

// Train fits the logistic model against historical incident labels. Weights
// start at zero so training is deterministic.
func Train(corpus []model.LabeledIncident, learningRate float64, epochs int) (*Model, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}
	if learningRate <= 0 {
		learningRate = 0.01
	}
	if epochs <= 0 {
		epochs = 100
	}

	n := len(corpus)
	rows := make([][]float64, n)
	labels := make([]float64, n)
	for i, inc := range corpus {
		rows[i] = featureRow(inc.Context)
		if inc.Occurred {
			labels[i] = 1
		}
	}

	means := make([]float64, featureCount)
	stds := make([]float64, featureCount)
	for j := 0; j < featureCount; j++ {
		var sum float64
		for _, row := range rows {
			sum += row[j]
		}
		means[j] = sum / float64(n)
		var sq float64
		for _, row := range rows {
			d := row[j] - means[j]
			sq += d * d
		}
		stds[j] = math.Sqrt(sq / float64(n))
	}

	scaled := make([][]float64, n)
	for i, row := range rows {
		scaled[i] = standardize(row, means, stds)
	}

	weights := make([]float64, featureCount)
	bias := 0.0
	for epoch := 0; epoch < epochs; epoch++ {
		grad := make([]float64, featureCount)
		var biasGrad float64
		for i, row := range scaled {
			pred := sigmoid(dot(row, weights) + bias)
			diff := pred - labels[i]
			for j := 0; j < featureCount; j++ {
				grad[j] += row[j] * diff
			}
			biasGrad += diff
		}
		for j := 0; j < featureCount; j++ {
			weights[j] -= learningRate * grad[j] / float64(n)
		}
		bias -= learningRate * biasGrad / float64(n)
	}

	for j := 0; j < featureCount; j++ {
		if math.IsNaN(weights[j]) || math.IsInf(weights[j], 0) {
			return nil, ErrMalformed
		}
	}

	return &Model{
		Means:     means,
		Stds:      stds,
		Weights:   weights,
		Bias:      bias,
		TrainedOn: n,
	}, nil
}

// Probability returns the raw incident probability in [0, 1].
func (m *Model) Probability(c model.IncidentContext) (float64, error) {
	if m == nil {
		return 0, ErrNotTrained
	}
	if len(m.Means) != featureCount || len(m.Stds) != featureCount || len(m.Weights) != featureCount {
		return 0, ErrMalformed
	}
	row := standardize(featureRow(c), m.Means, m.Stds)
	p := sigmoid(dot(row, m.Weights) + m.Bias)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, ErrMalformed
	}
	return p, nil
}

// Predict assembles the full forecast from the model probability.
func (m *Model) Predict(c model.IncidentContext) (model.IncidentForecast, error) {
	p, err := m.Probability(c)
	if err != nil {
		return model.IncidentForecast{}, err
	}
	confidence := math.Abs(p-0.5) * 200
	if confidence > 100 {
		confidence = 100
	}
	return model.IncidentForecast{
		Probability:    p,
		RiskLevel:      LevelForProbability(p),
		Confidence:     confidence,
		Recommendation: RecommendationFor(p),
		Factors:        identifyFactors(c),
	}, nil
}

// RuleForecast is the always-available rule-based fallback.
func RuleForecast(c model.IncidentContext) model.IncidentForecast {
	probability := 0.10
	factors := make([]model.IncidentFactor, 0, 5)

	if c.RecentFailedAttempts > 3 {
		probability += 0.30
		factors = append(factors, model.FactorRecentFailedAttempts)
	}
	if c.OffHoursActivity > 0 {
		probability += 0.20
		factors = append(factors, model.FactorOffHoursActivity)
	}
	if c.LocationsAccessed > 5 {
		probability += 0.25
		factors = append(factors, model.FactorRapidLocationAccess)
	}
	if c.Hour < 6 || c.Hour > 22 {
		probability += 0.15
		factors = append(factors, model.FactorLateNightHours)
	}
	if c.IsWeekend && c.Tier == model.TierRestricted {
		probability += 0.10
		factors = append(factors, model.FactorWeekendRestricted)
	}
	if probability > 0.95 {
		probability = 0.95
	}

	return model.IncidentForecast{
		Probability:    probability,
		RiskLevel:      LevelForProbability(probability),
		Confidence:     80,
		Recommendation: RecommendationFor(probability),
		Factors:        factors,
	}
}

// Forecaster pairs the trained model with the rule fallback behind one
// Predict contract, mirroring the anomaly detector's two-variant strategy.
type Forecaster struct {
	model *Model
}

func NewForecaster(m *Model) *Forecaster {
	return &Forecaster{model: m}
}

func (f *Forecaster) Trained() bool {
	return f != nil && f.model != nil
}

// Predict never fails; statistical errors degrade to the rule forecast for
// that call.
func (f *Forecaster) Predict(c model.IncidentContext) model.IncidentForecast {
	if f != nil && f.model != nil {
		if fc, err := f.model.Predict(c); err == nil {
			return fc
		}
	}
	return RuleForecast(c)
}

func (f *Forecaster) Model() *Model {
	if f == nil {
		return nil
	}
	return f.model
}

// LevelForProbability maps probability to risk level: >0.7 critical,
// >0.5 high, >0.3 medium, else low.
func LevelForProbability(p float64) model.RiskLevel {
	switch {
	case p > 0.7:
		return model.RiskCritical
	case p > 0.5:
		return model.RiskHigh
	case p > 0.3:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// RecommendationFor selects from the fixed four-tier catalog keyed by the
// same thresholds as the risk level.
func RecommendationFor(p float64) model.Recommendation {
	switch {
	case p > 0.7:
		return model.RecommendImmediateAction
	case p > 0.5:
		return model.RecommendHighAlert
	case p > 0.3:
		return model.RecommendEnhancedMonitoring
	default:
		return model.RecommendNormalOperations
	}
}

func identifyFactors(c model.IncidentContext) []model.IncidentFactor {
	factors := make([]model.IncidentFactor, 0, 3)
	if c.RecentFailedAttempts > 2 {
		factors = append(factors, model.FactorRecentFailedAttempts)
	}
	if c.UnusualPatterns > 0 {
		factors = append(factors, model.FactorUnusualPatterns)
	}
	if c.OffHoursActivity > 0 {
		factors = append(factors, model.FactorOffHoursActivity)
	}
	return factors
}

func standardize(row, means, stds []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		if stds[j] > 0 {
			out[j] = (row[j] - means[j]) / stds[j]
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	if x > 500 {
		x = 500
	}
	if x < -500 {
		x = -500
	}
	return 1 / (1 + math.Exp(-x))
}
