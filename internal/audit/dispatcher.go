package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; events that find the buffer full
	// are counted and discarded.
	DropIfFull bool
	// Logger receives sink panics. Nil discards them.
	Logger *slog.Logger
}

// Stats counts what happened to emitted events.
type Stats struct {
	Delivered  uint64
	Dropped    uint64
	SinkPanics uint64
}

// Dispatcher relays events to a sink on its own goroutine so request paths
// never wait on audit I/O. A nil *Dispatcher is valid and drops everything.
type Dispatcher struct {
	sink       Sink
	logger     *slog.Logger
	dropIfFull bool

	// mu is held for reading by every send and for writing by Close, so the
	// queue is never closed under a sender.
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	// stop unblocks senders waiting on a full queue once Close begins.
	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		sink:       sink,
		logger:     logger,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.finished)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("audit.sink.panic", slog.String("event_type", string(event.Kind)), slog.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event. With DropIfFull it never blocks; otherwise it waits
// for room until ctx is done or Close starts. Events emitted after Close
// are discarded silently.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close delivers everything already queued and stops the worker. It is
// idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.stop) })

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.finished
}

// Stats returns the dispatcher counters. A nil dispatcher reports zeros.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		SinkPanics: d.panics.Load(),
	}
}

func (d *Dispatcher) Dropped() uint64 { return d.Stats().Dropped }

func (d *Dispatcher) Delivered() uint64 { return d.Stats().Delivered }
