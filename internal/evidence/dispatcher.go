package evidence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by Dispatcher.Record when the backlog is full.
var ErrQueueFull = errors.New("evidence: hand-off queue full")

// ErrDispatcherClosed is returned after Shutdown.
var ErrDispatcherClosed = errors.New("evidence: dispatcher closed")

// DispatcherOptions configure the background writer pool.
type DispatcherOptions struct {
	Workers      int
	QueueSize    int
	// WriteTimeout bounds each write to the underlying sink.
	WriteTimeout time.Duration
	// OnResult is called after each write with its error (nil on success).
	OnResult     func(err error)
}

// Dispatcher hands records to a Sink from a worker pool, so a slow
// database never stalls a session. Record never blocks.
type Dispatcher struct {
	sink   Sink
	opts   DispatcherOptions
	queue  chan Record
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker pool.
func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:  sink,
		opts:  opts,
		queue: make(chan Record, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Record enqueues rec. It fails fast when the queue is full or closed.
func (d *Dispatcher) Record(_ context.Context, rec Record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- rec:
		return nil
	default:
		slog.Warn("[Evidence] hand-off queue full, dropping record", "id", rec.ID, "client_id", rec.ClientID)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for rec := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
		err := d.sink.Record(ctx, rec)
		cancel()
		if err != nil {
			slog.Error("[Evidence] failed to persist record", "id", rec.ID, "client_id", rec.ClientID, "error", err)
		}
		if d.opts.OnResult != nil {
			d.opts.OnResult(err)
		}
	}
}

// Shutdown stops accepting records and waits for the backlog to drain.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
