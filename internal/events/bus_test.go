package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInEmissionOrder(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := range 5 {
		bus.Update(TypeFile, i, BucketQueue)
	}
	bus.Remove(TypeFile, 2, BucketQueue)

	for _, sub := range []*Subscription{a, b} {
		evs := sub.Drain()
		require.Len(t, evs, 6)
		for i := range 5 {
			assert.Equal(t, i, evs[i].ID)
			assert.Equal(t, KindUpdate, evs[i].Kind)
			assert.False(t, evs[i].Time.IsZero())
		}
		assert.Equal(t, KindRemove, evs[5].Kind)
	}
}

func TestBusDoesNotDeduplicate(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Update(TypeFile, 7, BucketCollector)
	bus.Update(TypeFile, 7, BucketCollector)
	assert.Equal(t, 2, sub.Pending())
}

func TestSubscriptionNextBlocksUntilEmit(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	got := make(chan []Event, 1)
	go func() {
		evs, err := sub.Next(context.Background())
		if err == nil {
			got <- evs
		}
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Update(TypeFile, 3, BucketQueue)

	select {
	case evs := <-got:
		require.Len(t, evs, 1)
		assert.Equal(t, 3, evs[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after emit")
	}
}

func TestSubscriptionNextHonorsContext(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribeClosesSubscription(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Unsubscribe(sub.ID)
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	bus.Update(TypeFile, 1, BucketQueue)
	assert.Equal(t, 0, sub.Pending())
	assert.Equal(t, 0, bus.Count())
}

func TestPullAndPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bus := NewBus()
	bus.now = func() time.Time { return now }

	sub := bus.Subscribe()
	bus.Update(TypeFile, 1, BucketQueue)

	evs, ok := bus.Pull(sub.ID)
	require.True(t, ok)
	assert.Len(t, evs, 1)
	assert.True(t, bus.HasActive(30*time.Second))

	_, ok = bus.Pull("missing")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	assert.False(t, bus.HasActive(30*time.Second))
	assert.Equal(t, 1, bus.Prune(30*time.Second))
	_, ok = bus.Get(sub.ID)
	assert.False(t, ok)
}

func TestConcurrentEmitPreservesPerEntityOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	var wg sync.WaitGroup
	for id := range 4 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range 50 {
				bus.Update(TypeFile, id, BucketQueue)
			}
		}(id)
	}
	wg.Wait()

	last := map[int]time.Time{}
	evs := sub.Drain()
	require.Len(t, evs, 200)
	for _, ev := range evs {
		assert.False(t, ev.Time.Before(last[ev.ID]))
		last[ev.ID] = ev.Time
	}
}
