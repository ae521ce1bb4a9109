package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
	"github.com/joseph-ayodele/connect-cards/internal/session"
)

var (
	ErrRecoveryPending = errors.New("a previous scan session must be resumed or discarded first")
	ErrNoRecovery      = errors.New("no scan session to recover")
	ErrNoSession       = errors.New("no active scan session")
	ErrCannotFinish    = errors.New("cards are still pending or processing")
)

// Queue is the part of queue.Manager the scan flow drives.
type Queue interface {
	Enqueue(front queue.CapturedImage, back *queue.CapturedImage, org entity.OrgContext) queue.Item
	Retry(id uuid.UUID) error
	Remove(id uuid.UUID) error
	Reset() error
	Items() []queue.Item
	Stats() queue.Stats
	Subscribe(fn queue.Subscriber) (unsubscribe func())
}

// BatchCreator creates the server-side batch a session's cards are grouped under.
type BatchCreator interface {
	Create(ctx context.Context, orgID, locationID, name string) (*entity.Batch, error)
}

type CardInput struct {
	Front      queue.CapturedImage
	Back       *queue.CapturedImage
	CardType   constants.CardType
	LocationID string
	// BatchName only applies to the first card of a session.
	BatchName string
}

// Summary is what Finish reports before the session is cleared.
type Summary struct {
	Session *session.ScanSession
	Stats   queue.Stats
	Items   []queue.Item
}

// Service owns the scan session and is the only place cards enter the queue.
type Service struct {
	queue   Queue
	store   session.Store
	batches BatchCreator
	orgID   string
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *session.ScanSession
	pending *session.ScanSession

	unsubscribe func()
}

type Option func(*Service)

// WithBatches enables batch creation for sessions started with a batch name.
func WithBatches(b BatchCreator) Option {
	return func(s *Service) { s.batches = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(q Queue, store session.Store, orgID string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		queue:  q,
		store:  store,
		orgID:  orgID,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	s.unsubscribe = q.Subscribe(s.onEvent)
	return s
}

// Close detaches the service from the queue.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Open looks for an unfinished session left by a previous run. A found session
// is held until Resume or Discard; it is never resumed implicitly.
func (s *Service) Open(ctx context.Context) (*session.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, nil
	}
	if s.pending != nil {
		return s.pending.Clone(), nil
	}
	stale, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("scan.session.load_failed", "error", err)
		return nil, nil
	}
	if stale == nil {
		return nil, nil
	}
	s.pending = stale
	s.logger.Info("scan.session.recovery_pending",
		"cards_scanned", stale.CardsScanned,
		"batch_id", stale.BatchID,
		"started_at", stale.StartedAt,
	)
	return stale.Clone(), nil
}

// Resume adopts the stale session exactly as it was stored.
func (s *Service) Resume(ctx context.Context) (*session.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, ErrNoRecovery
	}
	s.current, s.pending = s.pending, nil
	s.logger.Info("scan.session.resumed", "cards_scanned", s.current.CardsScanned, "batch_id", s.current.BatchID)
	return s.current.Clone(), nil
}

// Discard drops the stale session, or the active one, from memory and storage.
// Discarding the active session also empties the queue, so its cards never
// count toward the next session; it fails with queue.ErrBusy while a card is
// in a stage and leaves the session untouched.
func (s *Service) Discard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if err := s.queue.Reset(); err != nil {
			return fmt.Errorf("discard session: %w", err)
		}
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("discard session: %w", err)
	}
	s.pending = nil
	s.current = nil
	s.logger.Info("scan.session.discarded")
	return nil
}

// Current returns a copy of the active session, or nil.
func (s *Service) Current() *session.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// AddCard starts a session on the first card, counts the card, persists the
// session and appends the card to the queue.
func (s *Service) AddCard(ctx context.Context, in CardInput) (queue.Item, error) {
	if len(in.Front.Data) == 0 {
		return queue.Item{}, fmt.Errorf("front image is required: %w", common.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return queue.Item{}, ErrRecoveryPending
	}
	now := s.now()
	if s.current == nil {
		s.current = s.newSessionLocked(ctx, in, now)
	}
	if in.LocationID != "" {
		s.current.LocationID = in.LocationID
	}
	s.current.CardsScanned++
	s.current.UpdatedAt = now
	org := entity.OrgContext{
		OrgID:      s.orgID,
		LocationID: s.current.LocationID,
		BatchID:    s.current.BatchID,
	}
	scanned := s.current.CardsScanned
	s.persistLocked(ctx)
	s.mu.Unlock()

	item := s.queue.Enqueue(in.Front, in.Back, org)
	s.logger.Info("scan.card.added", "item_id", item.ID, "cards_scanned", scanned)
	return item, nil
}

func (s *Service) newSessionLocked(ctx context.Context, in CardInput, now time.Time) *session.ScanSession {
	cardType := in.CardType
	if cardType == "" {
		cardType = constants.CardTypeSingle
	}
	sess := &session.ScanSession{
		CardType:   cardType,
		LocationID: in.LocationID,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	name := strings.TrimSpace(in.BatchName)
	if name != "" && s.batches != nil {
		b, err := s.batches.Create(ctx, s.orgID, in.LocationID, name)
		if err != nil {
			// the batch is optional grouping; cards still save without it
			s.logger.Warn("scan.batch.create_failed", "name", name, "error", err)
		} else {
			sess.BatchID = b.ID.String()
			sess.BatchName = b.Name
		}
	}
	s.logger.Info("scan.session.started", "card_type", sess.CardType, "location_id", sess.LocationID, "batch_id", sess.BatchID)
	return sess
}

func (s *Service) Retry(id uuid.UUID) error  { return s.queue.Retry(id) }
func (s *Service) Remove(id uuid.UUID) error { return s.queue.Remove(id) }
func (s *Service) Stats() queue.Stats        { return s.queue.Stats() }
func (s *Service) Items() []queue.Item       { return s.queue.Items() }

// Finish closes the session once nothing is pending or processing. Storage is
// cleared and the queue emptied.
func (s *Service) Finish(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Summary{}, ErrNoSession
	}
	stats := s.queue.Stats()
	if !stats.CanFinish {
		return Summary{}, ErrCannotFinish
	}
	sum := Summary{Session: s.current.Clone(), Stats: stats, Items: s.queue.Items()}
	if err := s.queue.Reset(); err != nil {
		return Summary{}, fmt.Errorf("finish session: %w", err)
	}
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("scan.session.clear_failed", "error", err)
	}
	s.current = nil
	s.logger.Info("scan.session.finished",
		"cards_scanned", sum.Session.CardsScanned,
		"complete", stats.Complete,
		"duplicate", stats.Duplicate,
		"failed", stats.Failed,
	)
	return sum, nil
}

// onEvent keeps the session's running totals in step with settled items.
func (s *Service) onEvent(ev queue.Event) {
	switch ev.Type {
	case queue.EventStatusChanged, queue.EventRetried, queue.EventRemoved:
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	cur := s.current
	switch {
	case ev.Settled():
		switch ev.Status {
		case constants.StatusComplete:
			cur.Complete++
		case constants.StatusDuplicate:
			cur.Duplicate++
		case constants.StatusFailed:
			cur.Failed++
		}
	case ev.Type == queue.EventRetried:
		cur.Failed = max(cur.Failed-1, 0)
	case ev.Type == queue.EventRemoved && ev.From == constants.StatusFailed:
		cur.Failed = max(cur.Failed-1, 0)
	case ev.Type == queue.EventRemoved && ev.From == constants.StatusDuplicate:
		cur.Duplicate = max(cur.Duplicate-1, 0)
	default:
		return
	}
	cur.UpdatedAt = s.now()
	s.persistLocked(context.Background())
}

// persistLocked saves the session. Failures are logged; the session in memory
// stays authoritative. Caller holds s.mu.
func (s *Service) persistLocked(ctx context.Context) {
	if err := s.store.Save(ctx, s.current); err != nil {
		s.logger.Warn("scan.session.persist_failed", "error", err)
	}
}
