package verdicts

import (
	"sync"
	"time"

	"campusguard/internal/model"
)

// Store is a bounded in-memory ring of recent consolidated verdicts, kept
// for operator inspection through the API.
type Store struct {
	mu    sync.RWMutex
	buf   []model.RiskVerdict
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(v model.RiskVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, v)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = v
}

func (s *Store) List(limit int) []model.RiskVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.RiskVerdict, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.RiskVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RiskVerdict, 0)
	for _, v := range s.buf {
		if !v.Timestamp.Before(ts) {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
