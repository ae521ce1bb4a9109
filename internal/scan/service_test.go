package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/pipeline"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
	"github.com/joseph-ayodele/connect-cards/internal/session"
)

// dedupProcessor completes the first card with given bytes and marks later
// copies duplicate. Cards listed in failures fail that many times first.
type dedupProcessor struct {
	mu       sync.Mutex
	seen     map[string]bool
	failures map[string]int
	orgs     []entity.OrgContext
	gate     chan struct{}
}

func newDedupProcessor() *dedupProcessor {
	return &dedupProcessor{seen: map[string]bool{}, failures: map[string]int{}}
}

func (p *dedupProcessor) Process(ctx context.Context, job pipeline.Job, report pipeline.Reporter) pipeline.Outcome {
	if p.gate != nil {
		<-p.gate
	}
	_ = report(constants.StatusExtracting)
	_ = report(constants.StatusSaving)

	key := string(job.Front.Data)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orgs = append(p.orgs, job.Org)
	if p.failures[key] > 0 {
		p.failures[key]--
		return pipeline.Outcome{Status: constants.StatusFailed, Stage: pipeline.StageExtract, Err: common.ErrRateLimited}
	}
	if p.seen[key] {
		return pipeline.Outcome{Status: constants.StatusDuplicate, ContentHash: key, MatchedHash: key}
	}
	p.seen[key] = true
	return pipeline.Outcome{Status: constants.StatusComplete, ContentHash: key, RecordID: uuid.New()}
}

type fakeBatches struct {
	err error
}

func (f fakeBatches) Create(_ context.Context, orgID, locationID, name string) (*entity.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &entity.Batch{ID: uuid.MustParse("8b0f8a52-5d0e-4c5b-9f0f-0c4f3b0b7a11"), OrgID: orgID, LocationID: locationID, Name: name}, nil
}

type harness struct {
	proc  *dedupProcessor
	queue *queue.Manager
	store *session.FileStore
	svc   *Service
}

func newHarness(t *testing.T, dir string, opts ...Option) *harness {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	store, err := session.NewFileStore(dir, nil)
	require.NoError(t, err)
	proc := newDedupProcessor()
	q := queue.NewManager(proc, nil)
	svc := NewService(q, store, "org-1", nil, opts...)
	t.Cleanup(func() {
		q.Stop()
		svc.Close()
	})
	return &harness{proc: proc, queue: q, store: store, svc: svc}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.queue.Start(context.Background()))
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.queue.WaitIdle(ctx))
}

// eventually waits for the session totals, which are updated by the event
// subscriber just after the queue settles.
func (h *harness) eventually(t *testing.T, cond func(s *session.ScanSession) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		cur := h.svc.Current()
		return cur != nil && cond(cur)
	}, 2*time.Second, 5*time.Millisecond)
}

func front(data string) CardInput {
	return CardInput{
		Front:      queue.CapturedImage{Data: []byte(data), ContentType: "image/jpeg", FileName: data + ".jpg"},
		CardType:   constants.CardTypeSingle,
		LocationID: "north",
	}
}

func TestAddCard_StartsAndPersistsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")

	assert.Nil(t, h.svc.Current())
	for _, c := range []string{"a", "b", "c"} {
		_, err := h.svc.AddCard(ctx, front(c))
		require.NoError(t, err)
	}

	cur := h.svc.Current()
	require.NotNil(t, cur)
	assert.Equal(t, 3, cur.CardsScanned)
	assert.Equal(t, "north", cur.LocationID)

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.CardsScanned)
	assert.Len(t, h.svc.Items(), 3)
	assert.Equal(t, 3, h.svc.Stats().Pending)
}

func TestAddCard_RequiresFront(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.svc.AddCard(context.Background(), CardInput{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Nil(t, h.svc.Current())
}

func TestIdenticalCardsSettleCompleteThenDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.start(t)

	first, err := h.svc.AddCard(ctx, front("same"))
	require.NoError(t, err)
	second, err := h.svc.AddCard(ctx, front("same"))
	require.NoError(t, err)
	h.waitIdle(t)

	items := h.svc.Items()
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, constants.StatusComplete, items[0].Status)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, constants.StatusDuplicate, items[1].Status)

	h.eventually(t, func(s *session.ScanSession) bool { return s.Complete == 1 && s.Duplicate == 1 })

	require.NoError(t, h.svc.Remove(second.ID))
	h.eventually(t, func(s *session.ScanSession) bool { return s.Duplicate == 0 })
}

func TestRateLimitedCardCompletesAfterRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.proc.failures["busy"] = 1
	h.start(t)

	it, err := h.svc.AddCard(ctx, front("busy"))
	require.NoError(t, err)
	h.waitIdle(t)

	items := h.svc.Items()
	require.Len(t, items, 1)
	require.Equal(t, constants.StatusFailed, items[0].Status)
	assert.Equal(t, common.CodeRateLimited, items[0].Error.Code)
	assert.True(t, items[0].Error.Retryable)
	h.eventually(t, func(s *session.ScanSession) bool { return s.Failed == 1 })

	require.NoError(t, h.svc.Retry(it.ID))
	h.waitIdle(t)

	items = h.svc.Items()
	assert.Equal(t, constants.StatusComplete, items[0].Status)
	assert.Equal(t, 1, items[0].RetryCount)
	h.eventually(t, func(s *session.ScanSession) bool { return s.Failed == 0 && s.Complete == 1 })
}

func TestRecovery_Discard(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	prev := newHarness(t, dir)
	for _, c := range []string{"a", "b"} {
		_, err := prev.svc.AddCard(ctx, front(c))
		require.NoError(t, err)
	}

	h := newHarness(t, dir)
	stale, err := h.svc.Open(ctx)
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Equal(t, 2, stale.CardsScanned)
	assert.Nil(t, h.svc.Current(), "a stale session is never adopted implicitly")

	_, err = h.svc.AddCard(ctx, front("c"))
	assert.ErrorIs(t, err, ErrRecoveryPending)

	require.NoError(t, h.svc.Discard(ctx))
	_, err = h.svc.Resume(ctx)
	assert.ErrorIs(t, err, ErrNoRecovery)

	_, err = h.svc.AddCard(ctx, front("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.svc.Current().CardsScanned)

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CardsScanned)
}

func TestDiscard_ActiveSessionEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	for _, c := range []string{"a", "b"} {
		_, err := h.svc.AddCard(ctx, front(c))
		require.NoError(t, err)
	}

	require.NoError(t, h.svc.Discard(ctx))
	assert.Nil(t, h.svc.Current())
	assert.Empty(t, h.svc.Items())
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = h.svc.AddCard(ctx, front("c"))
	require.NoError(t, err)
	h.start(t)
	h.waitIdle(t)
	h.eventually(t, func(s *session.ScanSession) bool { return s.Complete == 1 })

	sum, err := h.svc.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Session.CardsScanned)
	assert.Equal(t, 1, sum.Stats.Total)
	assert.Equal(t, 1, sum.Session.Complete+sum.Session.Duplicate+sum.Session.Failed)
}

func TestDiscard_RefusedWhileCardInStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.proc.gate = make(chan struct{})
	h.start(t)
	_, err := h.svc.AddCard(ctx, front("a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.svc.Stats().IsProcessing }, 2*time.Second, 5*time.Millisecond)

	err = h.svc.Discard(ctx)
	assert.ErrorIs(t, err, queue.ErrBusy)
	require.NotNil(t, h.svc.Current(), "a refused discard keeps the session")
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)

	close(h.proc.gate)
	h.waitIdle(t)
	require.NoError(t, h.svc.Discard(ctx))
	assert.Empty(t, h.svc.Items())
}

func TestRecovery_ResumeExact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	started := time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC)
	seeded := &session.ScanSession{
		CardType:     constants.CardTypeDouble,
		LocationID:   "south",
		CardsScanned: 5,
		BatchID:      "8b0f8a52-5d0e-4c5b-9f0f-0c4f3b0b7a11",
		BatchName:    "Early service",
		Complete:     3,
		Failed:       2,
		StartedAt:    started,
		UpdatedAt:    started.Add(time.Minute),
	}
	store, err := session.NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, seeded))

	h := newHarness(t, dir)
	stale, err := h.svc.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded, stale)

	resumed, err := h.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded, resumed)

	_, err = h.svc.AddCard(ctx, CardInput{Front: queue.CapturedImage{Data: []byte("x")}})
	require.NoError(t, err)
	cur := h.svc.Current()
	assert.Equal(t, 6, cur.CardsScanned)
	assert.Equal(t, "south", cur.LocationID)

	items := h.svc.Items()
	require.Len(t, items, 1)
	assert.Equal(t, seeded.BatchID, items[0].Org.BatchID)
}

func TestOpen_NoStaleSession(t *testing.T) {
	h := newHarness(t, "")
	stale, err := h.svc.Open(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestBatchIsCreatedForFirstCard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "", WithBatches(fakeBatches{}))
	h.start(t)

	in := front("a")
	in.BatchName = "  Sunday 9am "
	_, err := h.svc.AddCard(ctx, in)
	require.NoError(t, err)
	h.waitIdle(t)

	cur := h.svc.Current()
	assert.Equal(t, "8b0f8a52-5d0e-4c5b-9f0f-0c4f3b0b7a11", cur.BatchID)
	assert.Equal(t, "Sunday 9am", cur.BatchName)

	h.proc.mu.Lock()
	defer h.proc.mu.Unlock()
	require.Len(t, h.proc.orgs, 1)
	assert.Equal(t, entity.OrgContext{OrgID: "org-1", LocationID: "north", BatchID: cur.BatchID}, h.proc.orgs[0])
}

func TestBatchFailureDoesNotBlockCards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "", WithBatches(fakeBatches{err: errors.New("batch service down")}))

	in := front("a")
	in.BatchName = "Sunday"
	_, err := h.svc.AddCard(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, h.svc.Current().BatchID)
	assert.Len(t, h.svc.Items(), 1)
}

func TestFinish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")

	_, err := h.svc.Finish(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	h.proc.gate = make(chan struct{})
	h.start(t)
	_, err = h.svc.AddCard(ctx, front("a"))
	require.NoError(t, err)
	_, err = h.svc.AddCard(ctx, front("b"))
	require.NoError(t, err)

	_, err = h.svc.Finish(ctx)
	assert.ErrorIs(t, err, ErrCannotFinish)

	close(h.proc.gate)
	h.waitIdle(t)
	h.eventually(t, func(s *session.ScanSession) bool { return s.Complete == 2 })

	sum, err := h.svc.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Session.CardsScanned)
	assert.Equal(t, 2, sum.Stats.Complete)
	assert.Len(t, sum.Items, 2)

	assert.Nil(t, h.svc.Current())
	assert.Empty(t, h.svc.Items())
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}
