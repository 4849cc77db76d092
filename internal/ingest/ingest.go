package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"

	"campusguard/internal/model"
)

// Queue is the handoff between intake sources and the engine loop. Offer
// never blocks a reader or handler goroutine: when the engine falls behind,
// scans are dropped and counted instead.
type Queue struct {
	events  chan model.ScanEvent
	logger  *slog.Logger
	dropped atomic.Uint64
}

func NewQueue(buffer int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 10000
	}
	return &Queue{
		events: make(chan model.ScanEvent, buffer),
		logger: logger,
	}
}

// Events is the engine-side read end.
func (q *Queue) Events() <-chan model.ScanEvent {
	return q.events
}

// Offer enqueues one scan without blocking. A cancelled context refuses the
// event without counting it as dropped.
func (q *Queue) Offer(ctx context.Context, ev model.ScanEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case q.events <- ev:
		return true
	default:
		total := q.dropped.Add(1)
		if q.logger != nil {
			q.logger.Warn("scan queue full, dropping event",
				"subject_id", ev.SubjectID,
				"location_id", ev.LocationID,
				"source", ev.Source,
				"dropped_total", total,
			)
		}
		return false
	}
}

// Dropped reports how many scans have been discarded since startup.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
