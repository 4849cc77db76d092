package ingest

import (
	"context"
	"testing"

	"campusguard/internal/model"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, nil)
	ctx := context.Background()

	if !q.Offer(ctx, model.ScanEvent{SubjectID: "a"}) {
		t.Fatalf("first offer must succeed")
	}
	if q.Offer(ctx, model.ScanEvent{SubjectID: "b"}) {
		t.Fatalf("offer past capacity must drop")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected one recorded drop, got %d", q.Dropped())
	}

	ev := <-q.Events()
	if ev.SubjectID != "a" {
		t.Fatalf("queued event lost, got %+v", ev)
	}
	if !q.Offer(ctx, model.ScanEvent{SubjectID: "c"}) {
		t.Fatalf("offer after drain must succeed")
	}
}

func TestQueueCancelledContext(t *testing.T) {
	q := NewQueue(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Offer(ctx, model.ScanEvent{SubjectID: "a"}) {
		t.Fatalf("offer with cancelled context must be refused")
	}
	if q.Dropped() != 0 {
		t.Fatalf("refusal is not a drop, got %d", q.Dropped())
	}
}
