package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("receive() timed out")
	}
	return Event{}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(core.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	classes, _ := bus.Subscribe(ctx, Filter{Entities: []Entity{Class}})
	class2, _ := bus.Subscribe(ctx, Filter{Entities: []Entity{Class}, EntityID: 2})
	all, _ := bus.Subscribe(ctx, Filter{})

	bus.Publish(
		New(Updated, Class, 1, nil),
		New(Created, Student, 10, nil),
		New(Deleted, Class, 2, nil),
	)

	ev := receive(t, classes)
	assert.Equal(t, 1, ev.EntityID)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, 2, receive(t, classes).EntityID)

	ev = receive(t, class2)
	assert.Equal(t, Deleted, ev.Kind)

	for _, want := range []Entity{Class, Student, Class} {
		assert.Equal(t, want, receive(t, all).Entity)
	}
}

func TestBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewBus(core.NopLogger{}).WithBuffer(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := bus.Subscribe(ctx, Filter{})
	bus.Publish(New(Updated, Class, 1, nil), New(Updated, Class, 2, nil), New(Updated, Class, 3, nil))

	assert.Equal(t, uint64(2), bus.Dropped())
	assert.Equal(t, 1, receive(t, ch).EntityID)
}

func TestBus_WatchNeverDrops(t *testing.T) {
	bus := NewBus(core.NopLogger{}).WithBuffer(1)
	ctx, cancel := context.WithCancel(context.Background())

	var seen []int
	bus.Watch(ctx, Filter{Entities: []Entity{Class}}, func(ev Event) {
		seen = append(seen, ev.EntityID)
	})
	require.Equal(t, 1, bus.Watchers())

	for i := 1; i <= 100; i++ {
		bus.Publish(New(Updated, Class, i, nil), New(Updated, User, i, nil))
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 100, seen[99])
	assert.Zero(t, bus.Dropped())

	cancel()
	require.Eventually(t, func() bool { return bus.Watchers() == 0 }, time.Second, 5*time.Millisecond)
	bus.Publish(New(Updated, Class, 101, nil))
	assert.Len(t, seen, 100)
}

func TestBus_UnsubscribeOnCancel(t *testing.T) {
	bus := NewBus(core.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := bus.Subscribe(ctx, Filter{})
	require.Equal(t, 1, bus.Subscribers())
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, bus.Subscribers())

	// publishing after unsubscribe must not panic
	bus.Publish(New(Created, User, 1, nil))
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		ev     Event
		want   bool
	}{
		{name: "empty matches all", filter: Filter{}, ev: New(Created, User, 1, nil), want: true},
		{name: "entity match", filter: Filter{Entities: []Entity{User, Class}}, ev: New(Created, Class, 1, nil), want: true},
		{name: "entity mismatch", filter: Filter{Entities: []Entity{User}}, ev: New(Created, Class, 1, nil)},
		{name: "id mismatch", filter: Filter{EntityID: 2}, ev: New(Created, Class, 1, nil)},
		{name: "id match", filter: Filter{Entities: []Entity{Class}, EntityID: 1}, ev: New(Created, Class, 1, nil), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.ev))
		})
	}
}
