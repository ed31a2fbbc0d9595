// Package dispatch implements the single-threaded object-event dispatcher
// (spec §4.G): handler filter registration by type/idHash with wildcards,
// enqueue filtering, a priority-ordered dispatch loop, pause/resume, and
// bounded per-handler statistics.
//
// Grounded on storage/trigger.go's TriggerDescription{Timing, Priority}
// registration/GetTriggers-by-timing pattern, generalized from "timing
// enum" to "type+idHash filter", driving the actual delivery loop through
// conc.PriorityQueue (itself grounded on scm/scheduler.go).
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/refinio/one-core/conc"
	"github.com/refinio/one-core/value"
	"github.com/refinio/one-core/versioned"
)

// FilterKind selects which of the three event shapes a subscription
// matches (spec §4.G "Filter registration").
type FilterKind int

const (
	FilterVersioned FilterKind = iota
	FilterUnversioned
	FilterIDObject
)

// Wildcard matches any type name or id hash.
const Wildcard = "*"

// Filter is a handler's subscription: versioned filters match (type,
// idHash) with "*" wildcards in either position; unversioned and
// id-object filters match type only.
type Filter struct {
	Kind     FilterKind
	TypeName string
	IDHash   string
}

func (f Filter) matches(ev versioned.Event) bool {
	switch f.Kind {
	case FilterVersioned:
		if ev.Kind != versioned.EventNewVersioned {
			return false
		}
		return (f.TypeName == Wildcard || f.TypeName == ev.TypeName) &&
			(f.IDHash == Wildcard || f.IDHash == ev.IDHash)
	case FilterUnversioned:
		if ev.Kind != versioned.EventNewUnversioned {
			return false
		}
		return f.TypeName == Wildcard || f.TypeName == ev.TypeName
	case FilterIDObject:
		if ev.Kind != versioned.EventNewID {
			return false
		}
		return f.TypeName == Wildcard || f.TypeName == ev.TypeName
	default:
		return false
	}
}

// HandlerFunc is invoked once per matched event, on the single dispatch
// goroutine — handlers never run concurrently with each other.
type HandlerFunc func(versioned.Event)

// HandlerStats is the bounded execution history kept per subscription.
type HandlerStats struct {
	Invocations int
	Errors      int
	LastRunAt   time.Time
	LastErr     error
}

type subscription struct {
	id      int
	filter  Filter
	handler HandlerFunc

	mu    sync.Mutex
	stats HandlerStats
}

// Dispatcher runs exactly one dispatch goroutine pulling prioritized
// events off a conc.PriorityQueue and fanning each one out to every
// matching handler in registration order.
type Dispatcher struct {
	mu                     sync.Mutex
	subs                   []*subscription
	nextID                 int
	enableEnqueueFiltering bool
	determinePriority      func(versioned.Event) int

	queue     *conc.PriorityQueue[versioned.Event]
	pauseCond *sync.Cond
	paused    bool
	cancel    context.CancelFunc
	done      chan struct{}

	eventsReceived prometheus.Counter
	eventsDropped  prometheus.Counter
	eventsHandled  *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
}

// Config configures a Dispatcher at construction.
type Config struct {
	EnableEnqueueFiltering bool
	MaxQueueLength         int
	MaxPendingPromises     int
	DeterminePriority      func(versioned.Event) int // default: always 0
	MetricsRegisterer      prometheus.Registerer     // optional
}

// New builds a Dispatcher. The dispatch loop does not start until Run is
// called.
func New(cfg Config) *Dispatcher {
	priority := cfg.DeterminePriority
	if priority == nil {
		priority = func(versioned.Event) int { return 0 }
	}

	d := &Dispatcher{
		enableEnqueueFiltering: cfg.EnableEnqueueFiltering,
		determinePriority:      priority,
		queue:                  conc.NewPriorityQueue[versioned.Event](cfg.MaxQueueLength, cfg.MaxPendingPromises),

		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "dispatch", Name: "events_received_total",
			Help: "Total store events offered to the dispatcher.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "dispatch", Name: "events_dropped_total",
			Help: "Events dropped by enqueue filtering (no matching handler at publish time).",
		}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "dispatch", Name: "handler_invocations_total",
			Help: "Handler invocations, by type name.",
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "dispatch", Name: "handler_panics_total",
			Help: "Handler invocations that panicked, by type name.",
		}, []string{"type"}),
	}

	if cfg.MetricsRegisterer != nil {
		cfg.MetricsRegisterer.MustRegister(d.eventsReceived, d.eventsDropped, d.eventsHandled, d.handlerErrors)
	}
	d.pauseCond = sync.NewCond(&d.mu)
	return d
}

// Subscribe registers handler under filter and returns a subscription id
// usable with Unsubscribe.
func (d *Dispatcher) Subscribe(filter Filter, handler HandlerFunc) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub := &subscription{id: d.nextID, filter: filter, handler: handler}
	d.subs = append(d.subs, sub)
	return sub.id
}

// Unsubscribe removes a previously registered handler.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) anyMatch(ev versioned.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.filter.matches(ev) {
			return true
		}
	}
	return false
}

// Publish offers ev to the dispatcher. If enableEnqueueFiltering is set
// and no subscription currently matches, the event is dropped without
// being queued (spec §4.G "Enqueue"). Otherwise it is deep-frozen and
// pushed at determinePriority(ev).
func (d *Dispatcher) Publish(ev versioned.Event) error {
	d.eventsReceived.Inc()
	if d.enableEnqueueFiltering && !d.anyMatch(ev) {
		d.eventsDropped.Inc()
		return nil
	}
	ev.Object.Fields = freezeFields(ev.Object.Fields)
	return d.queue.Push(ev, d.determinePriority(ev))
}

func freezeFields(fields []value.Field) []value.Field {
	frozen := make([]value.Field, len(fields))
	for i, f := range fields {
		frozen[i] = value.Field{Name: f.Name, Value: value.DeepFreeze(f.Value)}
	}
	return frozen
}

// Run starts the single dispatch goroutine; it returns once Shutdown is
// called or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	defer close(d.done)
	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := d.queue.Remove(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		d.waitWhilePaused()
		if ctx.Err() != nil {
			return
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) waitWhilePaused() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.paused {
		d.pauseCond.Wait()
	}
}

func (d *Dispatcher) deliver(ev versioned.Event) {
	d.mu.Lock()
	subs := make([]*subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	for _, s := range subs {
		if !s.filter.matches(ev) {
			continue
		}
		d.invoke(s, ev)
	}
}

func (d *Dispatcher) invoke(s *subscription, ev versioned.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.stats.Errors++
			s.stats.LastErr = panicError{r}
			s.mu.Unlock()
			d.handlerErrors.WithLabelValues(ev.TypeName).Inc()
		}
	}()
	s.handler(ev)
	s.mu.Lock()
	s.stats.Invocations++
	s.stats.LastRunAt = time.Now()
	s.mu.Unlock()
	d.eventsHandled.WithLabelValues(ev.TypeName).Inc()
}

type panicError struct{ v any }

func (p panicError) Error() string { return "handler panic" }

// Stats returns a snapshot of execution statistics for subscription id,
// or false if no such subscription exists.
func (d *Dispatcher) Stats(id int) (HandlerStats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.id == id {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.stats, true
		}
	}
	return HandlerStats{}, false
}

// Pause stops the dispatch loop from delivering any further events: a
// delivery already in progress finishes, an event dequeued after the pause
// waits at the gate until Resume, and Publish continues to accept and queue
// new events while paused.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume undoes a prior Pause, waking the dispatch loop to continue
// draining the queue.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	d.pauseCond.Broadcast()
}

// Shutdown stops the dispatch loop and waits for it to exit.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
