package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"campusguard/internal/anomaly"
	"campusguard/internal/incident"
)

// Version is bumped whenever the bundle layout changes. Bundles with an
// unknown version load as not-trained rather than failing the engine.
const Version = 1

// Bundle is the persisted model artifact: everything the trained anomaly
// and incident models need, plus provenance counts kept for diagnostics.
// Written after (re)training, read at startup, never mutated in place.
type Bundle struct {
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`

	Anomaly  *anomaly.StatisticalModel `json:"anomaly,omitempty"`
	Incident *incident.Model           `json:"incident,omitempty"`

	AccessEvents int `json:"access_events"`
	Incidents    int `json:"incidents"`
}

var ErrNoArtifact = errors.New("artifact: no model artifact present")

// Load reads a bundle from disk. A missing file returns ErrNoArtifact; a
// corrupt or version-mismatched file returns a descriptive error. Callers
// treat every error as "enter rule-based fallback mode", never as fatal.
func Load(path string) (*Bundle, error) {
	if path == "" {
		return nil, ErrNoArtifact
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("artifact: corrupt bundle %s: %w", path, err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("artifact: unsupported bundle version %d in %s", b.Version, path)
	}
	return &b, nil
}

// Save writes the bundle atomically (write-then-rename) so a crash mid-write
// never leaves a truncated artifact behind.
func Save(path string, b *Bundle) error {
	if path == "" {
		return errors.New("artifact: empty path")
	}
	if b == nil {
		return errors.New("artifact: nil bundle")
	}
	b.Version = Version
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
