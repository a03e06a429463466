// Package events moves repricing-trigger events to their in-process handlers and publishes
// checkout lifecycle events to external consumers.
package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"commerce-checkout/internal/domain"
)

var ErrDispatcherClosed = errors.New("events: dispatcher closed")

// HandlerFunc reacts to one cart event.
type HandlerFunc func(ctx context.Context, evt domain.CartEvent) error

type handler struct {
	name string
	fn   HandlerFunc
}

// Dispatcher queues cart events on a channel and feeds them to its handlers in
// registration order. Handlers run on the Run goroutine, one event at a time.
type Dispatcher struct {
	queue    chan domain.CartEvent
	handlers []handler
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	senders  sync.WaitGroup
	logger   *slog.Logger
}

func NewDispatcher(buffer int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Dispatcher{
		queue:  make(chan domain.CartEvent, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// On registers fn under name. Register every handler before Run.
func (d *Dispatcher) On(name string, fn HandlerFunc) *Dispatcher {
	d.handlers = append(d.handlers, handler{name: name, fn: fn})
	return d
}

// Dispatch queues evt. It blocks while the queue is full, until ctx is done or the
// dispatcher is closed.
func (d *Dispatcher) Dispatch(ctx context.Context, evt domain.CartEvent) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	d.senders.Add(1)
	d.mu.RUnlock()
	defer d.senders.Done()

	select {
	case d.queue <- evt:
		return nil
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle runs every handler for evt. Handler errors are logged and joined.
func (d *Dispatcher) Handle(ctx context.Context, evt domain.CartEvent) error {
	var errs []error
	for _, h := range d.handlers {
		if err := h.fn(ctx, evt); err != nil {
			d.logger.ErrorContext(ctx, "events: handler failed", "handler", h.name, "trigger", evt.Trigger, "cart_id", evt.CartID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run handles queued events until ctx is done or the dispatcher is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			d.drain(ctx)
			return
		case evt := <-d.queue:
			_ = d.Handle(ctx, evt)
		}
	}
}

// drain handles what was queued before Close. Blocked senders return on done.
func (d *Dispatcher) drain(ctx context.Context) {
	d.senders.Wait()
	for {
		select {
		case evt := <-d.queue:
			_ = d.Handle(ctx, evt)
		default:
			return
		}
	}
}

// Close stops accepting events and never blocks. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}
