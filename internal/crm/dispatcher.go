package crm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fans saved contacts out to the CRM in the background. Enqueue never
// blocks the caller and sync failures never reach it.
type Dispatcher struct {
	syncer  Syncer
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Contact
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan Contact, n)
		}
	}
}

func WithSyncTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(syncer Syncer, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		syncer:  syncer,
		logger:  logger,
		workers: 2,
		timeout: 30 * time.Second,
		ch:      make(chan Contact, 128),
	}
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go func(workerID int) {
				defer d.wg.Done()
				for c := range d.ch {
					d.sync(workerID, c)
				}
			}(i + 1)
		}
	})
}

func (d *Dispatcher) sync(workerID int, c Contact) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("crm.sync.panic", "worker_id", workerID, "record_id", c.RecordID, "panic", r)
		}
	}()

	start := time.Now()
	if err := d.syncer.Sync(ctx, c); err != nil {
		d.logger.Warn("crm.sync.failed",
			"worker_id", workerID,
			"record_id", c.RecordID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	d.logger.Info("crm.sync.ok", "worker_id", workerID, "record_id", c.RecordID,
		"elapsed_ms", time.Since(start).Milliseconds())
}

// Enqueue hands a contact to the background workers. It reports false when the
// contact was dropped because the dispatcher is full or shut down.
func (d *Dispatcher) Enqueue(c Contact) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("crm.sync.dropped", "record_id", c.RecordID, "reason", "shutting down")
		return false
	}
	select {
	case d.ch <- c:
		return true
	default:
		d.logger.Warn("crm.sync.dropped", "record_id", c.RecordID, "reason", "queue full")
		return false
	}
}

// Shutdown stops accepting contacts and waits for in-flight syncs or ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("crm.dispatcher.shutdown_interrupted")
	case <-done:
		d.logger.Info("crm.dispatcher.drained")
	}
}
