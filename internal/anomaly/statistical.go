package anomaly

import (
	"errors"
	"math"
	"sort"

	"campusguard/internal/model"
)

const featureCount = 6

var (
	ErrEmptyCorpus   = errors.New("anomaly: training corpus is empty")
	ErrDegenerate    = errors.New("anomaly: degenerate training corpus, no spread in features")
	ErrNotTrained    = errors.New("anomaly: model not trained")
	ErrMalformedStat = errors.New("anomaly: malformed standardization statistics")
)

// StatisticalModel is the trained outlier detector. Features are standardized
// with training-time statistics and scored by mean absolute z-distance; the
// decision function is positive for inliers and negative past the calibrated
// cutoff, so the accept/reject threshold sits at zero. Immutable once
// trained; retraining produces a new model that is swapped in whole.
type StatisticalModel struct {
	Means  []float64 `json:"means"`
	Stds   []float64 `json:"stds"`
	Cutoff float64   `json:"cutoff"`

	Contamination float64            `json:"contamination"`
	Clusters      ClusterDiagnostics `json:"clusters"`
	TrainedOn     int                `json:"trained_on"`
}

// ClusterDiagnostics summarizes the secondary clustering of normal behavior.
// Diagnostic only; it never contributes to the verdict.
type ClusterDiagnostics struct {
	Count int `json:"count"`
	Noise int `json:"noise"`
}

func featureRow(fv model.FeatureVector) []float64 {
	weekend := 0.0
	if fv.IsWeekend {
		weekend = 1.0
	}
	return []float64{
		float64(fv.Hour),
		float64(fv.DayOfWeek),
		weekend,
		float64(fv.LocationsPerHour),
		float64(fv.MinutesSinceLast),
		float64(fv.BaseRiskScore),
	}
}

// Train fits the model on a labeled historical corpus. The contamination
// fraction sets the distance quantile beyond which events are rejected;
// clusterEps/clusterMin drive the diagnostic clustering of normal events.
func Train(corpus []model.LabeledAccessEvent, contamination, clusterEps float64, clusterMin int) (*StatisticalModel, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.2
	}

	rows := make([][]float64, len(corpus))
	for i, ev := range corpus {
		rows[i] = featureRow(ev.Features)
	}

	means := make([]float64, featureCount)
	stds := make([]float64, featureCount)
	for j := 0; j < featureCount; j++ {
		var sum float64
		for _, row := range rows {
			sum += row[j]
		}
		means[j] = sum / float64(len(rows))
		var sq float64
		for _, row := range rows {
			d := row[j] - means[j]
			sq += d * d
		}
		stds[j] = math.Sqrt(sq / float64(len(rows)))
	}

	m := &StatisticalModel{
		Means:         means,
		Stds:          stds,
		Contamination: contamination,
		TrainedOn:     len(corpus),
	}

	distances := make([]float64, len(rows))
	for i, row := range rows {
		distances[i] = m.distanceRow(row)
	}
	sort.Float64s(distances)
	idx := int(math.Ceil(float64(len(distances)) * (1 - contamination)))
	if idx >= len(distances) {
		idx = len(distances) - 1
	}
	if idx < 0 {
		idx = 0
	}
	m.Cutoff = distances[idx]
	if m.Cutoff < 1e-9 || math.IsNaN(m.Cutoff) || math.IsInf(m.Cutoff, 0) {
		return nil, ErrDegenerate
	}

	normal := make([][]float64, 0, len(corpus))
	for i, ev := range corpus {
		if !ev.IsAnomaly {
			normal = append(normal, m.standardizeRow(rows[i]))
		}
	}
	m.Clusters = clusterNormal(normal, clusterEps, clusterMin)

	return m, nil
}

func (m *StatisticalModel) standardizeRow(row []float64) []float64 {
	out := make([]float64, featureCount)
	for j := 0; j < featureCount; j++ {
		if m.Stds[j] > 0 {
			out[j] = (row[j] - m.Means[j]) / m.Stds[j]
		} else {
			out[j] = 0
		}
	}
	return out
}

func (m *StatisticalModel) distanceRow(row []float64) float64 {
	var sum float64
	z := m.standardizeRow(row)
	for _, v := range z {
		sum += math.Abs(v)
	}
	return sum / featureCount
}

// Score returns the decision-function value for one feature vector. Positive
// means inlier, negative means outlier; magnitude is clamped to [-1, 1].
func (m *StatisticalModel) Score(fv model.FeatureVector) (float64, error) {
	if m == nil {
		return 0, ErrNotTrained
	}
	if len(m.Means) != featureCount || len(m.Stds) != featureCount || m.Cutoff < 1e-9 {
		return 0, ErrMalformedStat
	}
	d := m.distanceRow(featureRow(fv))
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, ErrMalformedStat
	}
	score := (m.Cutoff - d) / m.Cutoff
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score, nil
}

// Detect scores the features and assembles the full verdict. Risk level cut
// points over |score|: >0.5 critical, >0.3 high, >0.1 medium, else low.
func (m *StatisticalModel) Detect(fv model.FeatureVector) (model.AnomalyVerdict, error) {
	score, err := m.Score(fv)
	if err != nil {
		return model.AnomalyVerdict{}, err
	}
	isAnomaly := score < 0

	abs := math.Abs(score)
	level := model.RiskLow
	switch {
	case abs > 0.5:
		level = model.RiskCritical
	case abs > 0.3:
		level = model.RiskHigh
	case abs > 0.1:
		level = model.RiskMedium
	}

	confidence := abs * 20
	if confidence > 100 {
		confidence = 100
	}

	return model.AnomalyVerdict{
		IsAnomaly:    isAnomaly,
		AnomalyScore: score,
		Confidence:   confidence,
		RiskLevel:    level,
		Explanation:  explain(fv, isAnomaly),
	}, nil
}

// explain composes the reason list from the fixed catalog based on which
// feature checks fire.
func explain(fv model.FeatureVector, isAnomaly bool) []model.Reason {
	if !isAnomaly {
		return []model.Reason{model.ReasonNormalPattern}
	}
	reasons := make([]model.Reason, 0, 3)
	if fv.LocationsPerHour > 3 {
		reasons = append(reasons, model.ReasonHighLocationRate)
	}
	if fv.Hour < 6 || fv.Hour > 22 {
		reasons = append(reasons, model.ReasonOffHours)
	}
	if fv.MinutesSinceLast < 10 {
		reasons = append(reasons, model.ReasonRapidSuccession)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, model.ReasonUnusualPattern)
	}
	return reasons
}

// clusterNormal runs a small density clustering (DBSCAN) over standardized
// normal-labeled rows. Used only to report how many behavior groups the
// normal corpus forms.
func clusterNormal(points [][]float64, eps float64, minSamples int) ClusterDiagnostics {
	if eps <= 0 {
		eps = 0.5
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	n := len(points)
	if n == 0 {
		return ClusterDiagnostics{}
	}

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, n)
	clusterID := 0

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if euclidean(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		nb := neighbors(i)
		if len(nb) < minSamples {
			labels[i] = noise
			continue
		}
		clusterID++
		labels[i] = clusterID
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			nbj := neighbors(j)
			if len(nbj) >= minSamples {
				queue = append(queue, nbj...)
			}
		}
	}

	noiseCount := 0
	for _, l := range labels {
		if l == noise {
			noiseCount++
		}
	}
	return ClusterDiagnostics{Count: clusterID, Noise: noiseCount}
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
