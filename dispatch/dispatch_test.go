package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/refinio/one-core/versioned"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestVersionedFilterWildcardMatching(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	var got []versioned.Event
	d.Subscribe(Filter{Kind: FilterVersioned, TypeName: "Person", IDHash: Wildcard}, func(ev versioned.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc", Hash: "h1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Note", IDHash: "def", Hash: "h2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0].TypeName != "Person" {
		t.Fatalf("expected only Person event delivered, got %+v", got)
	}
}

func TestEnqueueFilteringDropsUnmatchedEvents(t *testing.T) {
	d := New(Config{EnableEnqueueFiltering: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// No subscriptions at all yet: publish must be dropped, not queued.
	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if d.queue.Len() != 0 {
		t.Fatalf("expected dropped event to never reach the queue, queue len = %d", d.queue.Len())
	}
}

func TestDispatcherStatsTracksInvocations(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {})
	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		stats, _ := d.Stats(id)
		return stats.Invocations == 1
	})
}

func TestDispatcherHandlerPanicIsRecordedNotFatal(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var secondRan bool
	var mu sync.Mutex
	d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {
		panic("boom")
	})
	id2 := d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {
		mu.Lock()
		secondRan = true
		mu.Unlock()
	})

	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondRan
	})
	stats, _ := d.Stats(id2)
	if stats.Invocations != 1 {
		t.Fatalf("expected second handler to run despite first panicking, stats = %+v", stats)
	}
}

func TestPauseStopsDeliveryUntilResume(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	var count int
	d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	d.Pause()
	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	gotWhilePaused := count
	mu.Unlock()
	if gotWhilePaused != 0 {
		t.Fatalf("expected no delivery while paused, got %d", gotWhilePaused)
	}

	d.Resume()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

// TestPauseDuringBlockedRemoveStillGatesDelivery pins the dispatch
// goroutine inside a blocking queue.Remove (by first publishing and
// draining one event) before calling Pause, then publishes the event
// that wakes that Remove call. The pause gate must still catch it
// between dequeue and delivery.
func TestPauseDuringBlockedRemoveStillGatesDelivery(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	var count int
	d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "warmup"}); err != nil {
		t.Fatalf("Publish warmup: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	d.Pause()
	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "gated"}); err != nil {
		t.Fatalf("Publish gated: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	gotWhilePaused := count
	mu.Unlock()
	if gotWhilePaused != 1 {
		t.Fatalf("expected the paused event to stay undelivered, got count %d", gotWhilePaused)
	}

	d.Resume()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	d := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	var count int
	id := d.Subscribe(Filter{Kind: FilterVersioned, TypeName: Wildcard, IDHash: Wildcard}, func(versioned.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	d.Unsubscribe(id)

	if err := d.Publish(versioned.Event{Kind: versioned.EventNewVersioned, TypeName: "Person", IDHash: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}
