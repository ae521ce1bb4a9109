package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
	"github.com/joseph-ayodele/connect-cards/internal/httpx"
)

type harness struct {
	uploader *fakeUploader
	saver    *fakeSaver
	fanout   *fakeFanout
	proc     *Processor
	reported []constants.QueueStatus
}

func newHarness(ex extractFunc, timeout time.Duration) *harness {
	h := &harness{uploader: &fakeUploader{}, saver: &fakeSaver{}, fanout: &fakeFanout{}}
	h.proc = NewProcessor(nil,
		NewUploadStage(h.uploader, 1024, nil),
		NewExtractStage(ex, nil),
		NewNormalizeStage(),
		NewSaveStage(h.saver, h.fanout, nil),
		timeout,
	)
	return h
}

func (h *harness) run(job Job) Outcome {
	return h.proc.Process(context.Background(), job, func(s constants.QueueStatus) error {
		h.reported = append(h.reported, s)
		return nil
	})
}

func testJob(withBack bool) Job {
	job := Job{
		ItemID: uuid.New(),
		Front:  Image{Data: []byte("front-bytes"), ContentType: "image/jpeg", FileName: "card.jpg"},
		Org:    entity.OrgContext{OrgID: "org-1", LocationID: "north", BatchID: "batch-1"},
	}
	if withBack {
		job.Back = &Image{Data: []byte("back-bytes"), ContentType: "image/png"}
	}
	return job
}

func extractOK(fields entity.CardFields) extractFunc {
	return func(_ context.Context, req extract.Request) (extract.Result, error) {
		hashes := make([]string, len(req.Images))
		for i, img := range req.Images {
			hashes[i] = extract.ContentHash(img.Data)
		}
		return extract.Result{Fields: fields, ContentHashes: hashes}, nil
	}
}

func TestProcessor_Complete(t *testing.T) {
	h := newHarness(extractOK(entity.CardFields{
		FirstName:   " Ada ",
		Email:       "ADA@Example.com",
		VisitStatus: "first time",
		Interests:   []string{"small group", "Small Groups", "Choir"},
	}), time.Second)

	out := h.run(testJob(true))

	require.Equal(t, constants.StatusComplete, out.Status, "err: %v", out.Err)
	assert.Equal(t, []constants.QueueStatus{constants.StatusExtracting, constants.StatusSaving}, h.reported)
	assert.Equal(t, extract.ContentHash([]byte("front-bytes")), out.ContentHash)
	assert.Len(t, out.StorageKeys, 2)
	assert.NotEqual(t, uuid.Nil, out.RecordID)

	require.Len(t, h.saver.saved, 1)
	saved := h.saver.saved[0]
	assert.Equal(t, out.StorageKeys, saved.StorageKeys)
	assert.Equal(t, "Ada", saved.Fields.FirstName)
	assert.Equal(t, "ada@example.com", saved.Fields.Email)
	assert.Equal(t, "First Visit", saved.Fields.VisitStatus)
	assert.Equal(t, []string{"Small Groups", "Choir"}, saved.Fields.Interests)

	require.Len(t, h.fanout.contacts, 1)
	assert.Equal(t, out.RecordID, h.fanout.contacts[0].RecordID)
	assert.Equal(t, "batch-1", h.fanout.contacts[0].BatchID)

	require.Len(t, h.uploader.requests, 2)
	assert.Equal(t, "card.jpg", h.uploader.requests[0].FileName)
	assert.Contains(t, h.uploader.requests[1].FileName, "-back.png")
}

func TestProcessor_DuplicateAtExtract(t *testing.T) {
	h := newHarness(func(_ context.Context, req extract.Request) (extract.Result, error) {
		return extract.Result{ContentHashes: []string{"h1"}, Duplicate: true, MatchedHash: "h1"}, nil
	}, time.Second)

	out := h.run(testJob(false))

	assert.Equal(t, constants.StatusDuplicate, out.Status)
	assert.Equal(t, "h1", out.MatchedHash)
	assert.Equal(t, []constants.QueueStatus{constants.StatusExtracting}, h.reported)
	assert.Empty(t, h.saver.saved)
	assert.Empty(t, h.fanout.contacts)
}

func TestProcessor_DuplicateAtSave(t *testing.T) {
	h := newHarness(extractOK(entity.CardFields{FirstName: "Ada"}), time.Second)
	h.saver.dup = true

	out := h.run(testJob(false))

	assert.Equal(t, constants.StatusDuplicate, out.Status)
	assert.Equal(t, out.ContentHash, out.MatchedHash)
	assert.Empty(t, h.fanout.contacts, "duplicates are not synced")
}

func TestProcessor_UploadFailures(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(extractOK(entity.CardFields{}), time.Second)
		h.uploader.requestErr = common.ErrRateLimited
		out := h.run(testJob(false))
		assert.Equal(t, constants.StatusFailed, out.Status)
		assert.Equal(t, StageUpload, out.Stage)
		assert.Equal(t, common.CodeRateLimited, common.Classify(out.Err))
		assert.Empty(t, h.reported)
	})
	t.Run("oversize image", func(t *testing.T) {
		h := newHarness(extractOK(entity.CardFields{}), time.Second)
		job := testJob(false)
		job.Front.Data = make([]byte, 2048)
		out := h.run(job)
		assert.Equal(t, common.CodeUploadRejected, common.Classify(out.Err))
		assert.Empty(t, h.uploader.requests)
	})
	t.Run("upload service refuses credentials", func(t *testing.T) {
		h := newHarness(extractOK(entity.CardFields{}), time.Second)
		h.uploader.requestErr = &httpx.StatusError{Code: 403}
		out := h.run(testJob(false))
		assert.Equal(t, StageUpload, out.Stage)
		assert.Equal(t, common.CodeUploadRejected, common.Classify(out.Err))
	})
	t.Run("transfer fails", func(t *testing.T) {
		h := newHarness(extractOK(entity.CardFields{}), time.Second)
		h.uploader.transferErr = common.ErrTransientNetwork
		out := h.run(testJob(true))
		assert.Equal(t, common.CodeTransientNetwork, common.Classify(out.Err))
	})
}

func TestProcessor_SaveFailureIsPersistence(t *testing.T) {
	h := newHarness(extractOK(entity.CardFields{FirstName: "Ada"}), time.Second)
	h.saver.err = common.ErrDatabase

	out := h.run(testJob(false))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, StageSave, out.Stage)
	assert.Equal(t, common.CodePersistence, common.Classify(out.Err))
	assert.True(t, common.IsRetryable(common.Classify(out.Err)))
}

func TestProcessor_StageTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := newHarness(func(context.Context, extract.Request) (extract.Result, error) {
		<-block // ignores its context on purpose
		return extract.Result{}, nil
	}, 30*time.Millisecond)

	start := time.Now()
	out := h.run(testJob(false))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, StageExtract, out.Stage)
	assert.Equal(t, common.CodeTransientNetwork, common.Classify(out.Err))
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestProcessor_StagePanic(t *testing.T) {
	h := newHarness(func(context.Context, extract.Request) (extract.Result, error) {
		panic("vision model exploded")
	}, time.Second)

	out := h.run(testJob(false))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, common.CodeInternal, common.Classify(out.Err))
}

func TestProcessor_ValidationIsNotRetryable(t *testing.T) {
	h := newHarness(func(context.Context, extract.Request) (extract.Result, error) {
		return extract.Result{}, common.NewAppError(common.CodeExtractionValidation, "unreadable", common.ErrValidation)
	}, time.Second)

	out := h.run(testJob(false))

	assert.Equal(t, common.CodeExtractionValidation, common.Classify(out.Err))
	assert.False(t, common.IsRetryable(common.Classify(out.Err)))
}

func TestNormalizeStage(t *testing.T) {
	out := NewNormalizeStage().Run(entity.CardFields{
		LastName:    " Lovelace",
		Phone:       " 555 0100 ",
		VisitStatus: "  ",
		Interests:   []string{"", " "},
		Keywords:    []string{"xmas", "Christmas", "bring a friend"},
	})
	assert.Equal(t, "Lovelace", out.LastName)
	assert.Equal(t, "555 0100", out.Phone)
	assert.Empty(t, out.VisitStatus)
	assert.Nil(t, out.Interests)
	assert.Equal(t, []string{"Christmas", "Invite Sunday"}, out.Keywords)
}

func TestProcessor_ExtractionStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
	}{
		{"bad request", &httpx.StatusError{Code: 400}, common.CodeExtractionValidation, false},
		{"too large", &httpx.StatusError{Code: 413}, common.CodeExtractionValidation, false},
		{"unsupported media", &httpx.StatusError{Code: 415}, common.CodeExtractionValidation, false},
		{"unprocessable", &httpx.StatusError{Code: 422}, common.CodeExtractionValidation, false},
		{"bad key", &httpx.StatusError{Code: 401}, common.CodeUnauthorized, false},
		{"forbidden", &httpx.StatusError{Code: 403}, common.CodeUnauthorized, false},
		{"throttled", &httpx.StatusError{Code: 429}, common.CodeRateLimited, true},
		{"upstream down", &httpx.StatusError{Code: 502}, common.CodeTransientNetwork, true},
		{"upload code from extractor", common.NewAppError(common.CodeUploadRejected, "fetch image", nil), common.CodeExtractionValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(func(context.Context, extract.Request) (extract.Result, error) {
				return extract.Result{}, tt.err
			}, time.Second)
			out := h.run(testJob(false))

			assert.Equal(t, constants.StatusFailed, out.Status)
			assert.Equal(t, StageExtract, out.Stage)
			code := common.Classify(out.Err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.retryable, common.IsRetryable(code))
			assert.NotContains(t, common.UserMessage(code), "upload")
		})
	}
}
