package service

import (
	"sync"
	"time"
)

// Scheduler runs fire-once deferred tasks keyed by id. Scheduling an id
// that is already pending replaces the earlier task.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[int64]*time.Timer
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[int64]*time.Timer)}
}

// Schedule runs fn after delay unless Cancel(id) or Stop is called first.
func (s *Scheduler) Schedule(id int64, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current := s.timers[id] == t
		if current {
			delete(s.timers, id)
		}
		s.mu.Unlock()

		if current {
			fn()
		}
	})
	s.timers[id] = t
}

// Cancel reports whether a pending task was stopped.
func (s *Scheduler) Cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
