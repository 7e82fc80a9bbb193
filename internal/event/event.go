package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 10000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Handlers run asynchronously on a bounded pool of goroutines,
// so subscribers must not rely on the order in which events of different publishes are handled.
type Bus struct {
	pool     chan struct{}
	timeout  time.Duration
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
	stopped  bool
}

type Option func(*Bus)

// WithPoolSize bounds the number of handlers running at the same time.
func WithPoolSize(n int) Option {
	return func(b *Bus) {
		b.pool = make(chan struct{}, n)
	}
}

// WithTimeout sets the deadline given to each handler invocation.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		timeout:  defaultTimeout,
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// On subscribes a handler typed on the concrete event, so handlers don't type-assert themselves.
func On[E Event](b *Bus, h func(ctx context.Context, e E) error) {
	var zero E
	b.Subscribe(zero.Name(), func(ctx context.Context, e Event) error {
		te, ok := e.(E)
		if !ok {
			return fmt.Errorf("event: unexpected type %T for %s", e, e.Name())
		}
		return h(ctx, te)
	})
}

// Publish an event. Events published after Stop are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		slog.WarnContext(ctx, "event: publish after stop", "event", e.Name())
		return
	}

	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.pool
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop rejects new events and waits for all running handlers to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
}

// Drain waits for the handlers dispatched so far without stopping the bus.
func (b *Bus) Drain() {
	b.wg.Wait()
}
