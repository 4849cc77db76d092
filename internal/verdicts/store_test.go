package verdicts

import (
	"testing"
	"time"

	"campusguard/internal/model"
)

func verdictAt(ts time.Time, subject string) model.RiskVerdict {
	return model.RiskVerdict{Timestamp: ts, SubjectID: subject, RiskLevel: model.RiskLow}
}

func TestStoreBounded(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(verdictAt(base.Add(time.Duration(i)*time.Minute), "s"))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 retained verdicts, got %d", len(got))
	}
	// Oldest two rolled off; newest survives last.
	if !got[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("wrong oldest retained: %v", got[0].Timestamp)
	}
	if !got[2].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("wrong newest retained: %v", got[2].Timestamp)
	}
}

func TestListLimit(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(verdictAt(base.Add(time.Duration(i)*time.Minute), "s"))
	}
	got := s.List(2)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if !got[1].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("limit must keep the newest entries")
	}
}

func TestSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(verdictAt(base.Add(time.Duration(i)*time.Minute), "s"))
	}
	got := s.Since(base.Add(3 * time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected 2 verdicts since cutoff, got %d", len(got))
	}
}

func TestClear(t *testing.T) {
	s := NewStore(10)
	s.Add(verdictAt(time.Now(), "s"))
	s.Clear()
	if got := s.List(0); len(got) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
