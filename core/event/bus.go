// Package event carries typed change notifications between the domain services and their observers
// (mirror syncer, websocket streams).
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/studylink/academy/core"
)

type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

type Entity string

const (
	User       Entity = "user"
	Student    Entity = "student"
	Teacher    Entity = "teacher"
	Parent     Entity = "parent"
	Class      Entity = "class"
	Subject    Entity = "subject"
	Course     Entity = "course"
	Progress   Entity = "progress"
	Test       Entity = "test"
	Submission Entity = "submission"
	Calendar   Entity = "calendar"
	Mirror     Entity = "mirror"
)

// Event describes one change. Payload is the changed entity (nil on delete).
type Event struct {
	ID       string      `json:"id"`
	Kind     Kind        `json:"kind"`
	Entity   Entity      `json:"entity"`
	EntityID int         `json:"entity_id,omitempty"`
	Key      string      `json:"key,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
	At       time.Time   `json:"at"`
}

func New(kind Kind, entity Entity, id int, payload interface{}) Event {
	return Event{Kind: kind, Entity: entity, EntityID: id, Payload: payload}
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(events ...Event)
}

// Filter selects events for a subscriber. Zero values match everything.
type Filter struct {
	Entities []Entity
	EntityID int
}

func (f Filter) Match(ev Event) bool {
	if f.EntityID != 0 && ev.EntityID != f.EntityID {
		return false
	}
	if len(f.Entities) == 0 {
		return true
	}
	for _, e := range f.Entities {
		if e == ev.Entity {
			return true
		}
	}
	return false
}

const defaultBuffer = 64

type subscription struct {
	filter Filter
	ch     chan Event
}

type watcher struct {
	filter Filter
	fn     func(Event)
}

// Bus is an in-process publish/subscribe hub. Publish never blocks: an event that does not fit in a
// subscriber's buffer is dropped for that subscriber. Watchers are called for every matching event.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*subscription
	watchers map[string]*watcher
	buffer   int
	logger   core.Logger
	dropped  uint64
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger core.Logger) *Bus {
	return &Bus{
		subs:     make(map[string]*subscription),
		watchers: make(map[string]*watcher),
		buffer:   defaultBuffer,
		logger:   logger,
	}
}

// WithBuffer sets the channel size of future subscriptions.
func (b *Bus) WithBuffer(n int) *Bus {
	if n > 0 {
		b.buffer = n
	}
	return b
}

func (b *Bus) Publish(events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}
		for _, w := range b.watchers {
			if w.filter.Match(ev) {
				w.fn(ev)
			}
		}
		for id, sub := range b.subs {
			if !sub.filter.Match(ev) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				atomic.AddUint64(&b.dropped, 1)
				b.logger.Warn("event dropped: slow subscriber", map[string]interface{}{
					"subscriber": id,
					"entity":     ev.Entity,
					"kind":       ev.Kind,
				})
			}
		}
	}
}

// Subscribe registers a subscriber until ctx is done; the returned channel is closed afterwards.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, string) {
	id := uuid.NewString()
	sub := &subscription{filter: filter, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, id
}

// Watch calls fn synchronously from Publish for every event matching filter, until ctx is done.
// fn must not block nor publish.
func (b *Bus) Watch(ctx context.Context, filter Filter, fn func(Event)) {
	id := uuid.NewString()
	b.mu.Lock()
	b.watchers[id] = &watcher{filter: filter, fn: fn}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}()
}

// Watchers returns the number of live watchers.
func (b *Bus) Watchers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events dropped so far.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Recorder is a Publisher that keeps every event. Used by tests and by the admin CLI.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(events ...Event) {
	r.mu.Lock()
	r.Events = append(r.Events, events...)
	r.mu.Unlock()
}

// Entities returns the entity of every recorded event, in order.
func (r *Recorder) Entities() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entity, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Entity)
	}
	return out
}
