package conc

import (
	"time"

	"github.com/refinio/one-core/onerr"
)

// Timeout runs fn in its own goroutine and returns its result, or a
// CodeTimeout error if ms elapses first (spec §4.F: "timeout(ms, promise)
// cancels its timer when the inner settles first; ms=0 is explicitly
// rejected; ms=∞ is a no-op pass-through").
func Timeout[T any](ms time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if ms == 0 {
		return zero, onerr.New(onerr.CodeTimeout, "timeout: ms=0 is not a valid duration")
	}
	if ms < 0 {
		// ms=∞: no-op pass-through, run fn directly with no race against a timer.
		return fn()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(ms)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, onerr.New(onerr.CodeTimeout, "timeout: deadline exceeded")
	}
}
