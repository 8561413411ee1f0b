// Package pool provides a bounded pool of leasable items, such as the test accounts that
// concurrently running scenarios must not share.
//
// Items are leased to an owner, identified by a string (normally the ID of an execution
// context). An owner holds at most one item at a time. Blocked callers of Acquire are served
// in the order in which they started waiting, and every wait is bounded: a pool never lets a
// caller block forever if demand exceeds its size.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
)

// DefaultAcquireTimeout is the longest Acquire will wait if neither the caller's context nor
// the pool options specify anything shorter.
const DefaultAcquireTimeout = 5 * time.Minute

var (
	// ErrEmptyPool is returned by New if it is given no items.
	ErrEmptyPool = errors.New("pool must contain at least one item")

	// ErrExhausted is matched by the error Acquire returns when no item became available in time.
	ErrExhausted = errors.New("no pool item became available")

	// ErrAlreadyLeased is returned by Acquire if the owner already holds an item.
	ErrAlreadyLeased = errors.New("owner already holds a pool item")

	// ErrNotLeased is returned by Release if the owner holds nothing.
	ErrNotLeased = errors.New("owner does not hold a pool item")
)

// ExhaustedError describes an Acquire call that gave up waiting.
type ExhaustedError struct {
	Owner  string
	Size   int
	Waited time.Duration
	Err    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s for %q after %s (pool size %d): %s", ErrExhausted, e.Owner, e.Waited, e.Size, e.Err)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Stats is a consistent snapshot of the pool's bookkeeping.
type Stats struct {
	Size      int
	Available int
	Leased    int
}

// Pool is a fixed-size set of items that can each be leased to one owner at a time.
//
// The zero value is not usable; call New.
type Pool[T any] struct {
	size           int
	sem            *semaphore.Weighted
	available      []T
	leases         map[string]T
	acquireTimeout time.Duration
	strict         bool
	loggers        ldlog.Loggers
	describe       func(T) string
	metrics        *telemetry.Metrics
	lock           sync.Mutex
}

// Option customizes a Pool.
type Option func(*options)

type options struct {
	acquireTimeout time.Duration
	strict         bool
	loggers        ldlog.Loggers
	describe       func(interface{}) string
	metrics        *telemetry.Metrics
}

// AcquireTimeout sets the upper bound on how long Acquire waits. Values <= 0 are ignored.
func AcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acquireTimeout = d
		}
	}
}

// Strict makes a Release by an owner that holds nothing panic, instead of only logging a warning.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// Loggers sets the loggers for lease activity.
func Loggers(loggers ldlog.Loggers) Option {
	return func(o *options) { o.loggers = loggers }
}

// Describe sets how items are rendered in log output. By default items are formatted with %v.
func Describe[T any](fn func(T) string) Option {
	return func(o *options) {
		o.describe = func(v interface{}) string { return fn(v.(T)) }
	}
}

// Metrics sets the collector that receives lease counts.
func Metrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a pool containing the given items, all initially available. Items are handed out
// in the order given.
func New[T any](items []T, opts ...Option) (*Pool[T], error) {
	if len(items) == 0 {
		return nil, ErrEmptyPool
	}
	o := options{acquireTimeout: DefaultAcquireTimeout, loggers: ldlog.NewDisabledLoggers()}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Pool[T]{
		size:           len(items),
		sem:            semaphore.NewWeighted(int64(len(items))),
		available:      append([]T(nil), items...),
		leases:         make(map[string]T, len(items)),
		acquireTimeout: o.acquireTimeout,
		strict:         o.strict,
		loggers:        o.loggers,
		metrics:        o.metrics,
		describe:       func(item T) string { return fmt.Sprintf("%v", item) },
	}
	if o.describe != nil {
		p.describe = func(item T) string { return o.describe(item) }
	}
	p.metrics.SetPoolLeased(0)
	return p, nil
}

// Size returns the fixed number of items in the pool.
func (p *Pool[T]) Size() int {
	return p.size
}

// Acquire leases an item to owner, waiting until one is available.
//
// The wait ends at the earlier of ctx's deadline and the pool's acquire timeout; in that case
// the returned error matches ErrExhausted and wraps the context error. Waiting callers are
// served in FIFO order.
func (p *Pool[T]) Acquire(ctx context.Context, owner string) (T, error) {
	var zero T
	if _, held := p.Owned(owner); held {
		return zero, fmt.Errorf("%w: %q", ErrAlreadyLeased, owner)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	started := time.Now()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		waited := time.Since(started)
		p.loggers.Warnf("Owner %s gave up waiting for a pool item after %s", owner, waited)
		p.metrics.PoolExhausted()
		return zero, &ExhaustedError{Owner: owner, Size: p.size, Waited: waited, Err: err}
	}
	p.metrics.ObservePoolWait(time.Since(started))

	p.lock.Lock()
	if _, held := p.leases[owner]; held {
		// The same owner raced itself into two Acquire calls.
		p.lock.Unlock()
		p.sem.Release(1)
		return zero, fmt.Errorf("%w: %q", ErrAlreadyLeased, owner)
	}
	// Holding a semaphore unit guarantees a non-empty available list: Release puts the item
	// back before giving up its unit.
	item := p.available[0]
	p.available = p.available[1:]
	p.leases[owner] = item
	leased := len(p.leases)
	p.lock.Unlock()

	p.metrics.SetPoolLeased(leased)
	p.loggers.Infof("Owner %s acquired %s", owner, p.describe(item))
	return item, nil
}

// Release returns owner's item to the pool.
//
// If owner holds nothing, this changes nothing and returns ErrNotLeased; a Strict pool panics
// instead.
func (p *Pool[T]) Release(owner string) error {
	p.lock.Lock()
	item, held := p.leases[owner]
	if !held {
		p.lock.Unlock()
		if p.strict {
			panic(fmt.Sprintf("pool: release by %q, which holds no item", owner))
		}
		p.loggers.Warnf("Owner %s tried to release a pool item but holds none", owner)
		return fmt.Errorf("%w: %q", ErrNotLeased, owner)
	}
	delete(p.leases, owner)
	p.available = append(p.available, item)
	leased := len(p.leases)
	p.lock.Unlock()

	p.sem.Release(1)
	p.metrics.SetPoolLeased(leased)
	p.loggers.Infof("Owner %s released %s", owner, p.describe(item))
	return nil
}

// Owned returns the item currently leased to owner, if any.
func (p *Pool[T]) Owned(owner string) (T, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	item, ok := p.leases[owner]
	return item, ok
}

// Stats returns the current counts. Available+Leased always equals Size.
func (p *Pool[T]) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	return Stats{Size: p.size, Available: len(p.available), Leased: len(p.leases)}
}
