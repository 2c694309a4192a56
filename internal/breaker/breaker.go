// Package breaker isolates read paths from a failing datastore. A breaker
// wraps one fallible operation: repeated failures open the circuit, open
// circuits answer from a fallback without touching the operation, and a
// half-open trial period decides when to close again. The breaker never
// retries; retries belong to the caller.
package breaker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Current breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"name"})
	tripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_trips_total",
		Help: "Number of times the breaker opened.",
	}, []string{"name"})
	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_fallbacks_total",
		Help: "Requests answered by the fallback.",
	}, []string{"name"})
)

type Options struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// Breaker guards an operation returning T. The fallback receives the same
// context as the protected operation and must always produce a usable value.
type Breaker[T any] struct {
	name     string
	opts     Options
	fallback func(context.Context) T

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	now         func() time.Time // overridable in tests
}

func New[T any](name string, opts Options, fallback func(context.Context) T) *Breaker[T] {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = time.Minute
	}
	b := &Breaker[T]{
		name:     name,
		opts:     opts,
		fallback: fallback,
		now:      time.Now,
	}
	stateGauge.WithLabelValues(name).Set(float64(Closed))
	return b
}

func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// stateLocked folds the reset-timeout transition into state reads so an open
// breaker becomes half-open without a timer goroutine.
func (b *Breaker[T]) stateLocked() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.ResetTimeout {
		b.state = HalfOpen
		b.successes = 0
		stateGauge.WithLabelValues(b.name).Set(float64(HalfOpen))
	}
	return b.state
}

// Execute runs op under breaker protection and always returns a value: the
// operation's result when it succeeds, the fallback's otherwise.
func (b *Breaker[T]) Execute(ctx context.Context, op func(context.Context) (T, error)) T {
	b.mu.Lock()
	state := b.stateLocked()
	if state == Open {
		b.mu.Unlock()
		fallbacksTotal.WithLabelValues(b.name).Inc()
		return b.fallback(ctx)
	}
	b.mu.Unlock()

	value, err := op(ctx)
	if err != nil {
		b.recordFailure(err)
		fallbacksTotal.WithLabelValues(b.name).Inc()
		return b.fallback(ctx)
	}
	b.recordSuccess()
	return value
}

func (b *Breaker[T]) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case HalfOpen:
		// One failed trial reopens immediately.
		b.open()
	default:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.open()
		}
	}
	log.Printf("breaker %s: operation failed (state=%s): %v", b.name, b.state, err)
}

func (b *Breaker[T]) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case HalfOpen:
		b.successes++
		if b.successes >= b.opts.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			stateGauge.WithLabelValues(b.name).Set(float64(Closed))
			log.Printf("breaker %s: closed after successful trials", b.name)
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker[T]) open() {
	b.state = Open
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
	stateGauge.WithLabelValues(b.name).Set(float64(Open))
	tripsTotal.WithLabelValues(b.name).Inc()
}
