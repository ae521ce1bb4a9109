package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/pipeline"
)

var (
	ErrItemNotFound      = fmt.Errorf("queue item: %w", common.ErrNotFound)
	ErrIllegalState      = errors.New("operation not allowed in current status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrBusy              = errors.New("queue is processing an item")
	ErrAlreadyRunning    = errors.New("queue already running")
)

// Processor drives one job through the stages.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job, report pipeline.Reporter) pipeline.Outcome
}

// Manager owns the card queue and its single worker. Only the worker moves an
// item between non-terminal statuses; users may only retry or remove settled items.
type Manager struct {
	proc        Processor
	logger      *slog.Logger
	now         func() time.Time
	itemTimeout time.Duration

	mu      sync.Mutex
	items   []*Item
	changed chan struct{}

	// sem admits one item into the stages at a time.
	sem chan struct{}
	// signal is the coalescing "check for work" channel; the scheduler is its only reader.
	signal chan struct{}

	subMu   sync.RWMutex
	subs    map[int]Subscriber
	nextSub int

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Manager)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithItemTimeout bounds a whole pass through the stages, on top of per-stage timeouts.
func WithItemTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.itemTimeout = d
		}
	}
}

func NewManager(proc Processor, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		proc:    proc,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		changed: make(chan struct{}),
		sem:     make(chan struct{}, 1),
		signal:  make(chan struct{}, 1),
		subs:    map[int]Subscriber{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches the scheduler loop. It runs until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.poke()
	m.logger.Info("queue.started")
	return nil
}

// Stop cancels the loop and waits for it. An item in flight fails with a
// retryable error.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("queue.stopped")
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
			m.drain(ctx)
		}
	}
}

// drain advances at most one item per acquisition of the semaphore and keeps
// going while pending work remains.
func (m *Manager) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case m.sem <- struct{}{}:
		default:
			return
		}
		item, ok := m.claimNext()
		if !ok {
			<-m.sem
			return
		}
		m.process(ctx, item)
		<-m.sem
	}
}

// Enqueue appends a card at the tail as pending.
func (m *Manager) Enqueue(front CapturedImage, back *CapturedImage, org entity.OrgContext) Item {
	now := m.now()
	it := &Item{
		ID:         uuid.New(),
		Front:      front,
		Back:       back,
		Org:        org,
		Status:     constants.StatusPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.items = append(m.items, it)
	snapshot := it.clone()
	m.broadcastLocked()
	m.mu.Unlock()

	m.logger.Info("queue.item.enqueued", "item_id", it.ID, "has_back", back != nil)
	m.publish(Event{Type: EventEnqueued, ItemID: it.ID, Status: constants.StatusPending, At: now})
	m.poke()
	return snapshot
}

// Retry moves a failed item back to pending at its original position.
func (m *Manager) Retry(id uuid.UUID) error {
	m.mu.Lock()
	it := m.findLocked(id)
	if it == nil {
		m.mu.Unlock()
		return ErrItemNotFound
	}
	if it.Status != constants.StatusFailed {
		status := it.Status
		m.mu.Unlock()
		return fmt.Errorf("retry %s item %s: %w", status, id, ErrIllegalState)
	}
	now := m.now()
	it.Status = constants.StatusPending
	it.Error = nil
	it.RetryCount++
	it.UpdatedAt = now
	retries := it.RetryCount
	m.broadcastLocked()
	m.mu.Unlock()

	m.logger.Info("queue.item.retried", "item_id", id, "retry_count", retries)
	m.publish(Event{Type: EventRetried, ItemID: id, From: constants.StatusFailed, Status: constants.StatusPending, At: now})
	m.poke()
	return nil
}

// Remove deletes a failed or duplicate item. Other items are untouched.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	idx := -1
	for i, it := range m.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrItemNotFound
	}
	it := m.items[idx]
	if !it.Status.IsRemovable() {
		status := it.Status
		m.mu.Unlock()
		return fmt.Errorf("remove %s item %s: %w", status, id, ErrIllegalState)
	}
	m.items = append(m.items[:idx], m.items[idx+1:]...)
	status, keys := it.Status, it.StorageKeys
	m.broadcastLocked()
	m.mu.Unlock()

	// uploaded images of removed cards are not reclaimed
	m.logger.Info("queue.item.removed", "item_id", id, "status", status, "storage_keys", keys)
	m.publish(Event{Type: EventRemoved, ItemID: id, From: status, At: m.now()})
	m.poke()
	return nil
}

// Reset empties the queue. It is refused while an item is in a stage.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if computeFrom(m.items).IsProcessing {
		m.mu.Unlock()
		return ErrBusy
	}
	n := len(m.items)
	m.items = nil
	m.broadcastLocked()
	m.mu.Unlock()

	m.logger.Info("queue.reset", "removed", n)
	m.publish(Event{Type: EventReset, At: m.now()})
	return nil
}

// Items returns a snapshot in queue order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.items))
	for i, it := range m.items {
		out[i] = it.clone()
	}
	return out
}

func (m *Manager) Item(id uuid.UUID) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findLocked(id); it != nil {
		return it.clone(), true
	}
	return Item{}, false
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeFrom(m.items)
}

// Busy reports whether the worker currently holds the semaphore.
func (m *Manager) Busy() bool {
	return len(m.sem) > 0
}

// WaitIdle blocks until nothing is pending or processing.
func (m *Manager) WaitIdle(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := computeFrom(m.items).CanFinish
		ch := m.changed
		m.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// claimNext moves the oldest pending item to uploading.
func (m *Manager) claimNext() (Item, bool) {
	m.mu.Lock()
	var next *Item
	for _, it := range m.items {
		if it.Status == constants.StatusPending {
			next = it
			break
		}
	}
	if next == nil {
		m.mu.Unlock()
		return Item{}, false
	}
	now := m.now()
	next.Status = constants.StatusUploading
	next.UpdatedAt = now
	snapshot := next.clone()
	m.broadcastLocked()
	m.mu.Unlock()

	m.publish(Event{Type: EventStatusChanged, ItemID: snapshot.ID, From: constants.StatusPending, Status: constants.StatusUploading, At: now})
	return snapshot, true
}

func (m *Manager) process(ctx context.Context, item Item) {
	start := time.Now()
	ctx = common.WithItemID(ctx, item.ID.String())
	if m.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.itemTimeout)
		defer cancel()
	}

	job := pipeline.Job{
		ItemID: item.ID,
		Front:  pipeline.Image{Data: item.Front.Data, ContentType: item.Front.ContentType, FileName: item.Front.FileName},
		Org:    item.Org,
	}
	if item.Back != nil {
		job.Back = &pipeline.Image{Data: item.Back.Data, ContentType: item.Back.ContentType, FileName: item.Back.FileName}
	}

	report := func(status constants.QueueStatus) error {
		return m.transition(item.ID, status, func(*Item) {})
	}
	outcome := m.runProcessor(ctx, job, report)

	err := m.transition(item.ID, outcome.Status, func(it *Item) {
		it.ContentHash = outcome.ContentHash
		it.MatchedHash = outcome.MatchedHash
		it.RecordID = outcome.RecordID
		if outcome.Status == constants.StatusFailed {
			// abandoned uploads are only logged by the processor; a retry uploads again
			it.StorageKeys = nil
			it.Error = newItemError(outcome)
			return
		}
		it.StorageKeys = outcome.StorageKeys
		it.Error = nil
		it.releaseImages()
	})
	if err != nil {
		// only reachable if a stage reported out of order
		m.forceFail(item.ID, err)
	}

	m.logger.Info("queue.item.settled",
		"item_id", item.ID,
		"status", outcome.Status,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func (m *Manager) runProcessor(ctx context.Context, job pipeline.Job, report pipeline.Reporter) (out pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("queue.processor.panic", "item_id", job.ItemID, "panic", r)
			out = pipeline.Outcome{
				Status: constants.StatusFailed,
				Err:    common.NewAppError(common.CodeInternal, fmt.Sprintf("processor panicked: %v", r), common.ErrInternal),
			}
		}
	}()
	out = m.proc.Process(ctx, job, report)
	switch out.Status {
	case constants.StatusComplete, constants.StatusDuplicate, constants.StatusFailed:
	default:
		out = pipeline.Outcome{
			Status: constants.StatusFailed,
			Stage:  out.Stage,
			Err:    common.NewAppError(common.CodeInternal, fmt.Sprintf("processor returned status %q", out.Status), common.ErrInternal),
		}
	}
	return out
}

// transition applies one edge of the status graph and publishes it.
func (m *Manager) transition(id uuid.UUID, to constants.QueueStatus, mutate func(*Item)) error {
	m.mu.Lock()
	it := m.findLocked(id)
	if it == nil {
		m.mu.Unlock()
		return ErrItemNotFound
	}
	from := it.Status
	if !constants.CanTransition(from, to) {
		m.mu.Unlock()
		m.logger.Error("queue.item.illegal_transition", "item_id", id, "from", from, "to", to)
		return fmt.Errorf("%s -> %s: %w", from, to, ErrIllegalTransition)
	}
	now := m.now()
	it.Status = to
	it.UpdatedAt = now
	mutate(it)
	var itemErr *ItemError
	if it.Error != nil {
		e := *it.Error
		itemErr = &e
	}
	m.broadcastLocked()
	m.mu.Unlock()

	m.publish(Event{Type: EventStatusChanged, ItemID: id, From: from, Status: to, Err: itemErr, At: now})
	return nil
}

func (m *Manager) forceFail(id uuid.UUID, cause error) {
	m.mu.Lock()
	it := m.findLocked(id)
	if it == nil || !it.Status.IsProcessing() {
		m.mu.Unlock()
		return
	}
	from := it.Status
	now := m.now()
	it.Status = constants.StatusFailed
	it.UpdatedAt = now
	it.Error = &ItemError{
		Code:      common.CodeInternal,
		Message:   common.UserMessage(common.CodeInternal),
		Retryable: true,
		Detail:    cause.Error(),
	}
	e := *it.Error
	m.broadcastLocked()
	m.mu.Unlock()

	m.publish(Event{Type: EventStatusChanged, ItemID: id, From: from, Status: constants.StatusFailed, Err: &e, At: now})
}

func (m *Manager) findLocked(id uuid.UUID) *Item {
	for _, it := range m.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// broadcastLocked wakes WaitIdle callers. Caller holds m.mu.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// poke posts a work signal without blocking; pending signals coalesce.
func (m *Manager) poke() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func newItemError(o pipeline.Outcome) *ItemError {
	code := common.Classify(o.Err)
	detail := ""
	if o.Err != nil {
		detail = o.Err.Error()
	}
	return &ItemError{
		Code:      code,
		Message:   common.UserMessage(code),
		Stage:     o.Stage,
		Retryable: common.IsRetryable(code),
		Detail:    detail,
	}
}
