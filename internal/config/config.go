package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Policy   PolicyConfig   `json:"policy" yaml:"policy"`
	Anomaly  AnomalyConfig  `json:"anomaly" yaml:"anomaly"`
	Incident IncidentConfig `json:"incident" yaml:"incident"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Model    ModelConfig    `json:"model" yaml:"model"`
	API      APIConfig      `json:"api" yaml:"api"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Verdicts VerdictsConfig `json:"verdicts" yaml:"verdicts"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// PolicyConfig drives the deterministic policy assessor. RestrictedStartHour
// and RestrictedEndHour bound a window that wraps midnight; hours strictly
// inside the window are flagged (defaults 22 and 6 flag 23:00-05:59).
type PolicyConfig struct {
	RestrictedStartHour   int                `json:"restricted_start_hour" yaml:"restricted_start_hour"`
	RestrictedEndHour     int                `json:"restricted_end_hour" yaml:"restricted_end_hour"`
	HighSecurityLocations []string           `json:"high_security_locations" yaml:"high_security_locations"`
	LocationTiers         map[string]string  `json:"location_tiers" yaml:"location_tiers"`
	OffHoursScore         int                `json:"off_hours_score" yaml:"off_hours_score"`
	HighSecurityScore     int                `json:"high_security_score" yaml:"high_security_score"`
	AdditionalAuthScore   int                `json:"additional_auth_score" yaml:"additional_auth_score"`
}

type AnomalyConfig struct {
	Contamination      float64       `json:"contamination" yaml:"contamination"`
	ClusterEpsilon     float64       `json:"cluster_epsilon" yaml:"cluster_epsilon"`
	ClusterMinSamples  int           `json:"cluster_min_samples" yaml:"cluster_min_samples"`
	WarnCooldown       time.Duration `json:"warn_cooldown" yaml:"warn_cooldown"`
}

type IncidentConfig struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Epochs       int     `json:"epochs" yaml:"epochs"`
}

type SessionConfig struct {
	Secret            string        `json:"secret" yaml:"secret"`
	MaxFailedAttempts int           `json:"max_failed_attempts" yaml:"max_failed_attempts"`
	LockoutWindow     time.Duration `json:"lockout_window" yaml:"lockout_window"`
	SessionTimeout    time.Duration `json:"session_timeout" yaml:"session_timeout"`
}

type ModelConfig struct {
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path"`
	TrainOnStart bool   `json:"train_on_start" yaml:"train_on_start"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	// AdminUser/AdminPassword gate the admin endpoints. When unset, admin
	// endpoints are open (suitable only for embedded or dev use).
	AdminUser     string `json:"admin_user" yaml:"admin_user"`
	AdminPassword string `json:"admin_password" yaml:"admin_password"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type HistoryConfig struct {
	SubjectLimit int `json:"subject_limit" yaml:"subject_limit"`
}

type VerdictsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			DedupeWindow:  1 * time.Second,
			MaxClockSkew:  2 * time.Second,
			MaxFutureSkew: 2 * time.Second,
		},
		Policy: PolicyConfig{
			RestrictedStartHour:   22,
			RestrictedEndHour:     6,
			HighSecurityLocations: nil,
			LocationTiers:         nil,
			OffHoursScore:         2,
			HighSecurityScore:     3,
			AdditionalAuthScore:   3,
		},
		Anomaly: AnomalyConfig{
			Contamination:     0.2,
			ClusterEpsilon:    0.5,
			ClusterMinSamples: 5,
			WarnCooldown:      5 * time.Second,
		},
		Incident: IncidentConfig{
			LearningRate: 0.01,
			Epochs:       100,
		},
		Session: SessionConfig{
			MaxFailedAttempts: 3,
			LockoutWindow:     300 * time.Second,
			SessionTimeout:    1800 * time.Second,
		},
		Model: ModelConfig{
			ArtifactPath: "models/campusguard.json",
			TrainOnStart: false,
		},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:campusguard.db?_pragma=busy_timeout(5000)"},
		History:  HistoryConfig{SubjectLimit: 5000},
		Verdicts: VerdictsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Policy.OffHoursScore <= 0 {
		cfg.Policy.OffHoursScore = 2
	}
	if cfg.Policy.HighSecurityScore <= 0 {
		cfg.Policy.HighSecurityScore = 3
	}
	if cfg.Policy.AdditionalAuthScore <= 0 {
		cfg.Policy.AdditionalAuthScore = 3
	}
	if cfg.Anomaly.Contamination <= 0 || cfg.Anomaly.Contamination >= 1 {
		cfg.Anomaly.Contamination = 0.2
	}
	if cfg.Anomaly.ClusterEpsilon <= 0 {
		cfg.Anomaly.ClusterEpsilon = 0.5
	}
	if cfg.Anomaly.ClusterMinSamples <= 0 {
		cfg.Anomaly.ClusterMinSamples = 5
	}
	if cfg.Incident.LearningRate <= 0 {
		cfg.Incident.LearningRate = 0.01
	}
	if cfg.Incident.Epochs <= 0 {
		cfg.Incident.Epochs = 100
	}
	if cfg.Session.MaxFailedAttempts <= 0 {
		cfg.Session.MaxFailedAttempts = 3
	}
	if cfg.Session.LockoutWindow <= 0 {
		cfg.Session.LockoutWindow = 300 * time.Second
	}
	if cfg.Session.SessionTimeout <= 0 {
		cfg.Session.SessionTimeout = 1800 * time.Second
	}
	if cfg.History.SubjectLimit <= 0 {
		cfg.History.SubjectLimit = 5000
	}
	if cfg.Verdicts.StoreLimit <= 0 {
		cfg.Verdicts.StoreLimit = 1000
	}
	if cfg.Model.ArtifactPath == "" {
		cfg.Model.ArtifactPath = "models/campusguard.json"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Policy.RestrictedStartHour < 0 || cfg.Policy.RestrictedStartHour > 23 {
		return fmt.Errorf("policy.restricted_start_hour out of range: %d", cfg.Policy.RestrictedStartHour)
	}
	if cfg.Policy.RestrictedEndHour < 0 || cfg.Policy.RestrictedEndHour > 23 {
		return fmt.Errorf("policy.restricted_end_hour out of range: %d", cfg.Policy.RestrictedEndHour)
	}
	for loc, tier := range cfg.Policy.LocationTiers {
		switch tier {
		case "public", "restricted", "staff_only", "admin_only":
		default:
			return fmt.Errorf("policy.location_tiers[%s] has unknown tier: %s", loc, tier)
		}
	}
	if cfg.Anomaly.Contamination <= 0 || cfg.Anomaly.Contamination >= 1 {
		return fmt.Errorf("anomaly.contamination must be in (0,1): %g", cfg.Anomaly.Contamination)
	}
	if cfg.Session.MaxFailedAttempts <= 0 {
		return errors.New("session.max_failed_attempts must be > 0")
	}
	if cfg.Session.LockoutWindow <= 0 {
		return errors.New("session.lockout_window must be > 0")
	}
	if cfg.Session.SessionTimeout <= 0 {
		return errors.New("session.session_timeout must be > 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an already-built config, for embedding callers and
// tests that do not load from a file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// Update validates and installs a new config, persisting it when the manager
// is file-backed. Omitted numeric settings get the same defaults as the
// file-load path, so both paths install identical configs.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
