package realtime

import (
	"context"
	"sync"

	"househunter/internal/metrics"
)

// Subscriber receives events for the topics it joined. Deliver must not
// block; slow subscribers are expected to buffer or drop.
type Subscriber interface {
	Deliver(t Topic, ev Event)
}

// Publisher is the narrow side of the channel layer used by services.
type Publisher interface {
	Publish(ctx context.Context, t Topic, ev Event) error
}

// Layer is a topic-keyed publish/subscribe fabric. Membership changes
// and publishes may happen concurrently from any goroutine.
type Layer interface {
	Publisher
	Join(ctx context.Context, t Topic, s Subscriber) error
	Leave(t Topic, s Subscriber)
	Close() error
}

// groups is the membership table shared by every Layer implementation.
type groups struct {
	mu      sync.RWMutex
	members map[Topic]map[Subscriber]struct{}
}

func newGroups() *groups {
	return &groups{members: make(map[Topic]map[Subscriber]struct{})}
}

// add reports whether s is the first member of t.
func (g *groups) add(t Topic, s Subscriber) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[t]
	if !ok {
		set = make(map[Subscriber]struct{})
		g.members[t] = set
	}
	set[s] = struct{}{}
	return !ok
}

// remove reports whether t became empty.
func (g *groups) remove(t Topic, s Subscriber) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[t]
	if !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(g.members, t)
		return true
	}
	return false
}

// snapshot copies the members so delivery happens outside the lock.
func (g *groups) snapshot(t Topic) []Subscriber {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := g.members[t]
	out := make([]Subscriber, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (g *groups) size(t Topic) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[t])
}

func (g *groups) deliver(t Topic, ev Event) {
	for _, s := range g.snapshot(t) {
		s.Deliver(t, ev)
	}
}

// MemoryLayer delivers events within a single process.
type MemoryLayer struct {
	groups *groups
}

var _ Layer = (*MemoryLayer)(nil)

func NewMemoryLayer() *MemoryLayer {
	return &MemoryLayer{groups: newGroups()}
}

func (l *MemoryLayer) Join(_ context.Context, t Topic, s Subscriber) error {
	l.groups.add(t, s)
	return nil
}

func (l *MemoryLayer) Leave(t Topic, s Subscriber) {
	l.groups.remove(t, s)
}

func (l *MemoryLayer) Publish(_ context.Context, t Topic, ev Event) error {
	metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	l.groups.deliver(t, ev)
	return nil
}

// Members returns the number of subscribers currently joined to t.
func (l *MemoryLayer) Members(t Topic) int {
	return l.groups.size(t)
}

func (l *MemoryLayer) Close() error { return nil }
