package alert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/streamwatch/internal/observe"
)

// defaultQueueSize bounds how many undelivered alerts are held before new
// ones are dropped.
const defaultQueueSize = 64

// DispatcherOption is a functional option for configuring a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the alert queue capacity. Default: 64.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Alert, n)
		}
	}
}

// WithMetrics attaches metric instruments. Without it the dispatcher records
// nothing.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher fans alerts out to its notifiers from a background worker. The
// producing side never blocks: when the queue is full, new alerts are dropped
// with a log entry rather than stalling the transcription callback.
type Dispatcher struct {
	notifiers []Notifier
	metrics   *observe.Metrics

	queue    chan Alert
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher creates a Dispatcher delivering to the given notifiers. Call
// Start before dispatching and Stop to drain and shut down.
func NewDispatcher(notifiers []Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, defaultQueueSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start launches the delivery worker. ctx bounds individual deliveries; the
// worker itself runs until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for a := range d.queue {
			d.deliver(ctx, a)
		}
	}()
}

// Dispatch queues an alert for delivery without blocking. A full queue drops
// the alert.
func (d *Dispatcher) Dispatch(a Alert) {
	select {
	case d.queue <- a:
		if d.metrics != nil {
			d.metrics.RecordKeywordAlert(context.Background(), a.Keyword, string(a.Match))
		}
	default:
		slog.Warn("alert queue full, dropping alert",
			"keyword", a.Keyword,
			"time", FormatTimestamp(a.Timestamp))
	}
}

// Stop drains the queue, waits for in-flight deliveries and shuts the worker
// down. Dispatch must not be called after Stop.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			slog.Error("alert delivery failed",
				"notifier", n.Name(),
				"keyword", a.Keyword,
				"error", err)
			if d.metrics != nil {
				d.metrics.RecordNotifyError(ctx, n.Name())
			}
		}
	}
}
