package provision

import (
	"context"
	"sync"
)

// State is the lifecycle of a Lazy value.
type State int

const (
	// Uninitialized means no value has been computed yet.
	Uninitialized State = iota
	// Pending means an initializer is running.
	Pending
	// Ready means the value is available.
	Ready
	// Invalidated means a value existed and was discarded.
	Invalidated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

type call[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Lazy is a single-assignment value computed on first use. Concurrent callers
// share one running initializer. A failed initialization is not remembered:
// its waiters receive the error and the next Get starts over.
type Lazy[T any] struct {
	init func(context.Context) (T, error)

	mu    sync.Mutex
	state State
	value T
	call  *call[T]
	gen   uint64
}

// NewLazy returns a Lazy that computes its value with init.
func NewLazy[T any](init func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the value, starting the initializer if nothing is ready or
// running. The initializer runs with a context detached from ctx's
// cancellation, so one caller giving up does not fail the others; each caller
// still stops waiting when its own ctx is done.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	switch l.state {
	case Ready:
		v := l.value
		l.mu.Unlock()
		return v, nil
	case Pending:
		c := l.call
		l.mu.Unlock()
		return wait(ctx, c)
	}

	c := &call[T]{done: make(chan struct{})}
	prior := l.state
	l.call = c
	l.state = Pending
	gen := l.gen
	l.mu.Unlock()

	go l.run(context.WithoutCancel(ctx), c, gen, prior)
	return wait(ctx, c)
}

func (l *Lazy[T]) run(ctx context.Context, c *call[T], gen uint64, prior State) {
	v, err := l.init(ctx)

	l.mu.Lock()
	if l.gen == gen && l.call == c {
		l.call = nil
		if err == nil {
			l.state = Ready
			l.value = v
		} else {
			l.state = prior
		}
	}
	l.mu.Unlock()

	c.value, c.err = v, err
	close(c.done)
}

func wait[T any](ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Invalidate discards the value. A running initializer still answers its
// current waiters but its result is not kept.
func (l *Lazy[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	if l.state == Ready || l.state == Pending {
		l.state = Invalidated
	}
	var zero T
	l.value = zero
	l.call = nil
}

// State returns the current lifecycle state.
func (l *Lazy[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Peek returns the value without triggering initialization.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.state == Ready
}
