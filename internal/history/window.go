package history

import (
	"context"
	"sync"
	"time"
)

// Tracker keeps a sliding one-hour access window per subject in memory and
// answers the two history queries the feature builder needs. It is the
// default history provider when no database store is configured. The subject
// map is bounded; the least recently active subject is evicted past the
// limit.
type Tracker struct {
	mu        sync.Mutex
	subjects  map[string]*subjectWindow
	updatedAt map[string]time.Time
	limit     int
}

type entry struct {
	ts       time.Time
	location string
}

type subjectWindow struct {
	entries   []entry
	head      int
	locCounts map[string]int
	last      time.Time
}

const windowSpan = time.Hour

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 5000
	}
	return &Tracker{
		subjects:  make(map[string]*subjectWindow),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Record notes one access. Call after the event has been assessed so the
// queries describe history prior to the current event.
func (t *Tracker) Record(subjectID, locationID string, ts time.Time) {
	if subjectID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.subjects[subjectID]
	if !ok {
		w = &subjectWindow{
			entries:   make([]entry, 0, 16),
			locCounts: make(map[string]int),
		}
		t.subjects[subjectID] = w
	}
	w.evict(ts.Add(-windowSpan))
	w.entries = append(w.entries, entry{ts: ts, location: locationID})
	if locationID != "" {
		w.locCounts[locationID]++
	}
	if ts.After(w.last) {
		w.last = ts
	}
	t.updatedAt[subjectID] = ts
	if len(t.subjects) > t.limit {
		t.evictOldestSubject()
	}
}

// MinutesSinceLastAccess reports whole minutes since the subject's most
// recent recorded access. The second return is false when the subject has no
// history.
func (t *Tracker) MinutesSinceLastAccess(_ context.Context, subjectID string, now time.Time) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.subjects[subjectID]
	if !ok || w.last.IsZero() {
		return 0, false, nil
	}
	minutes := int(now.Sub(w.last).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return minutes, true, nil
}

// DistinctLocationsLastHour counts distinct locations the subject touched in
// the trailing hour. False when the subject has no surviving history.
func (t *Tracker) DistinctLocationsLastHour(_ context.Context, subjectID string, now time.Time) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.subjects[subjectID]
	if !ok {
		return 0, false, nil
	}
	w.evict(now.Add(-windowSpan))
	if len(w.locCounts) == 0 {
		return 0, false, nil
	}
	return len(w.locCounts), true, nil
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subjects = make(map[string]*subjectWindow)
	t.updatedAt = make(map[string]time.Time)
}

func (w *subjectWindow) evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.ts.Before(cutoff) {
			break
		}
		if e.location != "" {
			if count := w.locCounts[e.location]; count <= 1 {
				delete(w.locCounts, e.location)
			} else {
				w.locCounts[e.location] = count - 1
			}
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]entry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (t *Tracker) evictOldestSubject() {
	var oldestSubject string
	var oldest time.Time
	for subject, ts := range t.updatedAt {
		if oldestSubject == "" || ts.Before(oldest) {
			oldestSubject = subject
			oldest = ts
		}
	}
	if oldestSubject != "" {
		delete(t.subjects, oldestSubject)
		delete(t.updatedAt, oldestSubject)
	}
}
