package conc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// S4 — named serialization: f1 and f2 enqueued under the same name run
// with disjoint intervals, start order equals enqueue order, and f1's
// rejection does not stop f2 from running.
func TestScenarioS4NamedSerialization(t *testing.T) {
	s := NewSerializer()
	var mu sync.Mutex
	var starts []string
	var overlap bool
	var active int

	run := func(name, label string, fail bool) <-chan error {
		done := make(chan error, 1)
		go func() {
			done <- s.RunSerial(name, func() error {
				mu.Lock()
				starts = append(starts, label)
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				if fail {
					return errors.New("boom")
				}
				return nil
			})
		}()
		return done
	}

	d1 := run("same-name", "f1", true)
	time.Sleep(5 * time.Millisecond) // ensure f1 enqueues first
	d2 := run("same-name", "f2", false)

	err1 := <-d1
	err2 := <-d2

	if err1 == nil {
		t.Fatal("expected f1 to reject")
	}
	if err2 != nil {
		t.Fatalf("expected f2 to still run and succeed, got %v", err2)
	}
	if overlap {
		t.Fatal("expected disjoint execution intervals")
	}
	if len(starts) != 2 || starts[0] != "f1" || starts[1] != "f2" {
		t.Fatalf("expected start order [f1 f2], got %v", starts)
	}
}

func TestSerializerDifferentNamesRunConcurrently(t *testing.T) {
	s := NewSerializer()
	var wg sync.WaitGroup
	start := make(chan struct{})
	concurrent := make(chan struct{}, 2)

	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			<-start
			_ = s.RunSerial(name, func() error {
				concurrent <- struct{}{}
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}(name)
	}
	close(start)
	wg.Wait()
	if len(concurrent) != 2 {
		t.Fatalf("expected both calls to have run")
	}
}

func TestTrackingPromiseResolveAndReject(t *testing.T) {
	p := NewTrackingPromise[int]()
	go p.Resolve(42)
	v, err := p.Wait()
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}

	rejected := NewTrackingPromise[int]()
	var handlerErr error
	rejected.OnReject(func(err error) { handlerErr = err })
	rejected.Reject(errors.New("nope"))
	if _, err := rejected.Wait(); err == nil {
		t.Fatal("expected rejection")
	}
	if handlerErr == nil {
		t.Fatal("expected OnReject handler to fire")
	}
}

func TestPriorityQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := NewPriorityQueue[string](0, 0)
	_ = q.Push("low-1", 1)
	_ = q.Push("high-1", 5)
	_ = q.Push("low-2", 1)
	_ = q.Push("high-2", 5)

	ctx := context.Background()
	var order []string
	for i := 0; i < 4; i++ {
		v, err := q.Remove(ctx, 0)
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		order = append(order, v)
	}
	want := []string{"high-1", "high-2", "low-1", "low-2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPriorityQueueRemoveTimeout(t *testing.T) {
	q := NewPriorityQueue[int](0, 0)
	_, err := q.Remove(context.Background(), 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error on empty queue")
	}
}

func TestPriorityQueueCancelPendingPromises(t *testing.T) {
	q := NewPriorityQueue[int](0, 0)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Remove(context.Background(), 0)
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q.CancelPendingPromises()
	if err := <-errCh; err == nil {
		t.Fatal("expected cancelled waiter to receive an error")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, RetryOptions{Delay: time.Millisecond, Retries: 5})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryShouldRetryGatesPermanentErrors(t *testing.T) {
	sentinel := errors.New("fatal")
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return sentinel
	}, RetryOptions{
		Delay:       time.Millisecond,
		Retries:     5,
		ShouldRetry: func(err error) bool { return false },
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (ShouldRetry=false should stop immediately)", attempts)
	}
}

func TestTimeoutZeroIsRejected(t *testing.T) {
	_, err := Timeout(0, func() (int, error) { return 1, nil })
	if err == nil {
		t.Fatal("expected ms=0 to be rejected")
	}
}

func TestTimeoutPassThroughOnInfinite(t *testing.T) {
	v, err := Timeout[int](-1, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("got (%d, %v), want (7, nil)", v, err)
	}
}

func TestTimeoutCancelsOnDeadline(t *testing.T) {
	_, err := Timeout(10*time.Millisecond, func() (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	if err == nil {
		t.Fatal("expected deadline-exceeded error")
	}
}
