package history

import (
	"context"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

func TestMinutesSinceLastAccess(t *testing.T) {
	tr := NewTracker(100)
	ctx := context.Background()

	if _, ok, _ := tr.MinutesSinceLastAccess(ctx, "student01", base); ok {
		t.Fatalf("unknown subject reported history")
	}

	tr.Record("student01", "LOBBY", base.Add(-30*time.Minute))
	minutes, ok, err := tr.MinutesSinceLastAccess(ctx, "student01", base)
	if err != nil || !ok {
		t.Fatalf("expected history, ok=%v err=%v", ok, err)
	}
	if minutes != 30 {
		t.Fatalf("expected 30 minutes, got %d", minutes)
	}
}

func TestDistinctLocationsLastHour(t *testing.T) {
	tr := NewTracker(100)
	ctx := context.Background()

	tr.Record("student01", "LOBBY", base.Add(-50*time.Minute))
	tr.Record("student01", "LAB-A", base.Add(-20*time.Minute))
	tr.Record("student01", "LAB-A", base.Add(-10*time.Minute))

	count, ok, err := tr.DistinctLocationsLastHour(ctx, "student01", base)
	if err != nil || !ok {
		t.Fatalf("expected history, ok=%v err=%v", ok, err)
	}
	if count != 2 {
		t.Fatalf("expected 2 distinct locations, got %d", count)
	}
}

func TestWindowEvictsOldAccesses(t *testing.T) {
	tr := NewTracker(100)
	ctx := context.Background()

	// 61 minutes old: outside the trailing hour.
	tr.Record("student01", "LOBBY", base.Add(-61*time.Minute))
	if count, ok, _ := tr.DistinctLocationsLastHour(ctx, "student01", base); ok || count != 0 {
		t.Fatalf("stale access must not count, got count=%d ok=%v", count, ok)
	}

	tr.Record("student02", "LOBBY", base.Add(-61*time.Minute))
	tr.Record("student02", "LAB-A", base.Add(-5*time.Minute))
	if count, ok, _ := tr.DistinctLocationsLastHour(ctx, "student02", base); !ok || count != 1 {
		t.Fatalf("expected only the recent location, got count=%d ok=%v", count, ok)
	}
}

func TestSubjectMapBounded(t *testing.T) {
	tr := NewTracker(2)
	ctx := context.Background()

	tr.Record("a", "L1", base)
	tr.Record("b", "L1", base.Add(time.Minute))
	tr.Record("c", "L1", base.Add(2*time.Minute))

	if _, ok, _ := tr.MinutesSinceLastAccess(ctx, "a", base.Add(3*time.Minute)); ok {
		t.Fatalf("oldest subject should have been evicted")
	}
	if _, ok, _ := tr.MinutesSinceLastAccess(ctx, "c", base.Add(3*time.Minute)); !ok {
		t.Fatalf("newest subject evicted")
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker(100)
	tr.Record("student01", "LOBBY", base)
	tr.Clear()
	if _, ok, _ := tr.MinutesSinceLastAccess(context.Background(), "student01", base); ok {
		t.Fatalf("cleared tracker reported history")
	}
}
