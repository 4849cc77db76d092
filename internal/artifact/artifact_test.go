package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"campusguard/internal/anomaly"
	"campusguard/internal/incident"
)

func testBundle() *Bundle {
	return &Bundle{
		TrainedAt: time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC),
		Anomaly: &anomaly.StatisticalModel{
			Means:         []float64{12, 3, 0, 1.5, 45, 0},
			Stds:          []float64{2.5, 1.4, 0, 0.5, 26, 0},
			Cutoff:        0.7,
			Contamination: 0.2,
			TrainedOn:     50,
		},
		Incident: &incident.Model{
			Means:     make([]float64, 9),
			Stds:      []float64{1, 1, 1, 1, 1, 1, 1, 1, 1},
			Weights:   []float64{0.1, 0, 0, 0.8, 0.2, 0.3, 0.4, 0, 0},
			Bias:      -0.5,
			TrainedOn: 40,
		},
		AccessEvents: 50,
		Incidents:    40,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "bundle.json")
	want := testBundle()
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != Version {
		t.Fatalf("version not stamped: %d", got.Version)
	}
	if !reflect.DeepEqual(got.Anomaly, want.Anomaly) {
		t.Fatalf("anomaly model did not round-trip")
	}
	if !reflect.DeepEqual(got.Incident, want.Incident) {
		t.Fatalf("incident model did not round-trip")
	}
	if got.AccessEvents != 50 || got.Incidents != 40 {
		t.Fatalf("provenance counts did not round-trip: %+v", got)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if _, err := Load(""); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("empty path must report ErrNoArtifact, got %v", err)
	}
}

func TestLoadCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || errors.Is(err, ErrNoArtifact) {
		t.Fatalf("corrupt artifact must return a descriptive error, got %v", err)
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected version-mismatch error")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	if err := Save(path, testBundle()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}
