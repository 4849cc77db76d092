package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"campusguard/internal/anomaly"
	"campusguard/internal/artifact"
	"campusguard/internal/config"
	"campusguard/internal/incident"
	"campusguard/internal/model"
	"campusguard/internal/policy"
	"campusguard/internal/storage"
	"campusguard/internal/verdicts"
)

// CorpusProvider supplies the labeled historical corpora the statistical
// models are trained from. Training-data provenance is the provider's
// concern, not the engine's.
type CorpusProvider interface {
	LabeledAccessEvents(ctx context.Context) ([]model.LabeledAccessEvent, error)
	LabeledIncidents(ctx context.Context) ([]model.LabeledIncident, error)
}

// HistoryRecorder is implemented by history providers that need to be fed
// scan events (the in-memory tracker). SQL-backed providers observe scans
// through SaveScan instead.
type HistoryRecorder interface {
	Record(subjectID, locationID string, ts time.Time)
}

// trainedModels is the immutable bundle swapped in whole on load or retrain.
// Request-handling code only ever reads it through the atomic pointer; a
// live model is never mutated in place.
type trainedModels struct {
	detector     *anomaly.Detector
	forecaster   *incident.Forecaster
	trainedAt    time.Time
	accessEvents int
	incidents    int
}

// Engine consolidates the policy assessor, the anomaly detector and the
// incident predictor into one verdict per access event.
type Engine struct {
	logger   *slog.Logger
	assessor *policy.Assessor
	history  HistoryProvider
	verdicts *verdicts.Store
	store    storage.Store

	cfg    atomic.Value
	models atomic.Value

	cooldown     *Cooldown
	deDupe       *DedupeCache
	degradedOnce sync.Once
	started      time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, hist HistoryProvider, verdictsStore *verdicts.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:   logger,
		assessor: policy.NewAssessor(cfg),
		history:  hist,
		verdicts: verdictsStore,
		store:    store,
		cooldown: NewCooldown(),
		deDupe:   NewDedupeCache(),
		started:  time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	e.models.Store(&trainedModels{
		detector:   anomaly.NewDetector(nil),
		forecaster: incident.NewForecaster(nil),
	})
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.assessor.UpdateConfig(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) current() *trainedModels {
	if v := e.models.Load(); v != nil {
		return v.(*trainedModels)
	}
	return &trainedModels{
		detector:   anomaly.NewDetector(nil),
		forecaster: incident.NewForecaster(nil),
	}
}

// LoadArtifact installs a persisted model bundle. A missing or corrupt
// artifact never crashes the engine: it transparently stays in rule-based
// fallback mode for both models and logs the degradation once.
func (e *Engine) LoadArtifact(path string) {
	bundle, err := artifact.Load(path)
	if err != nil {
		e.logDegraded(err)
		return
	}
	e.models.Store(&trainedModels{
		detector:     anomaly.NewDetector(bundle.Anomaly),
		forecaster:   incident.NewForecaster(bundle.Incident),
		trainedAt:    bundle.TrainedAt,
		accessEvents: bundle.AccessEvents,
		incidents:    bundle.Incidents,
	})
	if e.logger != nil {
		e.logger.Info("model artifact loaded",
			"path", path,
			"trained_at", bundle.TrainedAt,
			"access_events", bundle.AccessEvents,
			"incidents", bundle.Incidents,
		)
	}
}

func (e *Engine) logDegraded(err error) {
	e.degradedOnce.Do(func() {
		if e.logger != nil {
			e.logger.Warn("model artifact unavailable, rule-based fallback mode active", "err", err)
		}
	})
}

// Train fits both statistical models from the corpus provider, swaps the new
// bundle in atomically and persists it. Training failures on either model
// degrade that model to rules (logged as a warning) rather than failing the
// engine; the returned error reports only a completely unusable corpus
// provider, and even then the engine keeps serving with its prior models.
func (e *Engine) Train(ctx context.Context, corpus CorpusProvider) error {
	cfg := e.config()

	events, err := corpus.LabeledAccessEvents(ctx)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("training corpus unavailable", "err", err)
		}
		return err
	}
	incidents, incErr := corpus.LabeledIncidents(ctx)
	if incErr != nil && e.logger != nil {
		e.logger.Warn("incident corpus unavailable", "err", incErr)
	}

	var stat *anomaly.StatisticalModel
	stat, err = anomaly.Train(events, cfg.Anomaly.Contamination, cfg.Anomaly.ClusterEpsilon, cfg.Anomaly.ClusterMinSamples)
	if err != nil {
		stat = nil
		if e.logger != nil {
			e.logger.Warn("anomaly training failed, rule-based fallback", "err", err)
		}
	}

	var logit *incident.Model
	logit, err = incident.Train(incidents, cfg.Incident.LearningRate, cfg.Incident.Epochs)
	if err != nil {
		logit = nil
		if e.logger != nil {
			e.logger.Warn("incident training failed, rule-based fallback", "err", err)
		}
	}

	m := &trainedModels{
		detector:     anomaly.NewDetector(stat),
		forecaster:   incident.NewForecaster(logit),
		trainedAt:    time.Now().UTC(),
		accessEvents: len(events),
		incidents:    len(incidents),
	}
	e.models.Store(m)
	if e.logger != nil {
		e.logger.Info("models trained",
			"access_events", len(events),
			"incidents", len(incidents),
			"anomaly_statistical", stat != nil,
			"incident_statistical", logit != nil,
		)
	}

	if path := cfg.Model.ArtifactPath; path != "" && (stat != nil || logit != nil) {
		bundle := &artifact.Bundle{
			TrainedAt:    m.trainedAt,
			Anomaly:      stat,
			Incident:     logit,
			AccessEvents: len(events),
			Incidents:    len(incidents),
		}
		if err := artifact.Save(path, bundle); err != nil && e.logger != nil {
			e.logger.Warn("model artifact save failed", "path", path, "err", err)
		}
	}
	return nil
}

// Assess produces the consolidated verdict for one access event. The policy
// assessment always succeeds; the anomaly path can only escalate it, never
// de-escalate (merged score >= policy score, merged level never less severe
// than the policy level).
func (e *Engine) Assess(ctx context.Context, subjectID, locationID string, at time.Time) model.RiskVerdict {
	cfg := e.config()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pa := e.assessor.Assess(subjectID, locationID, at.Hour())

	minutesSinceLast, locationsPerHour := resolveHistory(ctx, e.history, subjectID, at)
	fv := BuildFeatureVector(at, minutesSinceLast, locationsPerHour, pa.RiskScore, e.assessor.Tier(locationID))

	av, fellBack := e.current().detector.DetectMode(fv)
	if fellBack {
		e.logDegraded(anomaly.ErrNotTrained)
	}

	score := pa.RiskScore
	level := pa.RiskLevel
	if av.IsAnomaly {
		if s := int(av.AnomalyScore); s > score {
			score = s
		}
		level = model.MaxRiskLevel(pa.RiskLevel, av.RiskLevel)
	}

	explanation := append([]model.Reason(nil), av.Explanation...)
	if fellBack {
		explanation = append(explanation, model.ReasonFallbackMode)
	}

	return model.RiskVerdict{
		Timestamp:              at,
		SubjectID:              subjectID,
		LocationID:             locationID,
		RiskScore:              score,
		RiskLevel:              level,
		RiskFactors:            pa.RiskFactors,
		RequiresAdditionalAuth: pa.RequiresAdditionalAuth || score >= cfg.Policy.AdditionalAuthScore,
		AnomalyDetected:        av.IsAnomaly,
		AnomalyScore:           av.AnomalyScore,
		AnomalyConfidence:      av.Confidence,
		Explanation:            explanation,
		FallbackMode:           fellBack,
	}
}

// Detect runs the anomaly detector alone on a caller-built feature vector.
func (e *Engine) Detect(fv model.FeatureVector) model.AnomalyVerdict {
	return e.current().detector.Detect(fv)
}

// ForecastIncident runs the incident predictor on the (normalized) context.
func (e *Engine) ForecastIncident(c model.IncidentContext) model.IncidentForecast {
	return e.current().forecaster.Predict(NormalizeIncidentContext(c))
}

// ProcessScan is the service-loop entry: dedupe, assess, record history,
// persist, and warn (cooldown-limited) on anomalous or high-risk scans.
func (e *Engine) ProcessScan(ev model.ScanEvent) *model.RiskVerdict {
	cfg := e.config()
	now := time.Now().UTC()
	ev.Timestamp = clampTimestamp(ev.Timestamp, now, cfg.Ingest.MaxClockSkew, cfg.Ingest.MaxFutureSkew)

	if cfg.Ingest.DedupeWindow > 0 && e.deDupe.Seen(hashScan(ev), now, cfg.Ingest.DedupeWindow) {
		return nil
	}

	verdict := e.Assess(context.Background(), ev.SubjectID, ev.LocationID, ev.Timestamp)

	if rec, ok := e.history.(HistoryRecorder); ok && rec != nil {
		rec.Record(ev.SubjectID, ev.LocationID, ev.Timestamp)
	}
	if e.verdicts != nil {
		e.verdicts.Add(verdict)
	}
	if e.store != nil {
		_ = e.store.SaveScan(context.Background(), ev)
		_ = e.store.SaveVerdict(context.Background(), verdict)
	}

	if verdict.AnomalyDetected || verdict.RiskLevel == model.RiskHigh || verdict.RiskLevel == model.RiskCritical {
		if e.cooldown.Allow("risk|"+ev.SubjectID, cfg.Anomaly.WarnCooldown) && e.logger != nil {
			e.logger.Warn("high risk access",
				"subject_id", verdict.SubjectID,
				"location_id", verdict.LocationID,
				"risk_score", verdict.RiskScore,
				"risk_level", verdict.RiskLevel,
				"anomaly", verdict.AnomalyDetected,
				"explanation", verdict.Explanation,
			)
		}
	}
	return &verdict
}

// Start consumes scan events until the context is cancelled.
func (e *Engine) Start(ctx context.Context, in <-chan model.ScanEvent) {
	go func() {
		for {
			select {
			case ev := <-in:
				e.ProcessScan(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) Reset() {
	e.cooldown = NewCooldown()
	e.deDupe = NewDedupeCache()
	if e.verdicts != nil {
		e.verdicts.Clear()
	}
}

// Status describes the engine's model state for the operations API.
type Status struct {
	Started             time.Time `json:"started"`
	AnomalyStatistical  bool      `json:"anomaly_statistical"`
	IncidentStatistical bool      `json:"incident_statistical"`
	TrainedAt           time.Time `json:"trained_at,omitempty"`
	AccessEvents        int       `json:"access_events"`
	Incidents           int       `json:"incidents"`
}

func (e *Engine) Status() Status {
	m := e.current()
	return Status{
		Started:             e.started,
		AnomalyStatistical:  m.detector.Trained(),
		IncidentStatistical: m.forecaster.Trained(),
		TrainedAt:           m.trainedAt,
		AccessEvents:        m.accessEvents,
		Incidents:           m.incidents,
	}
}

func hashScan(ev model.ScanEvent) string {
	parts := []string{
		ev.SubjectID,
		ev.LocationID,
		string(ev.Result),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
