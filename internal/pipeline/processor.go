package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
)

const (
	StageUpload  = "upload"
	StageExtract = "extract"
	StageSave    = "save"
)

// Outcome is the final state of one pass through the stages. Status is one of
// complete, duplicate or failed.
type Outcome struct {
	Status      constants.QueueStatus
	Stage       string
	Err         error
	ContentHash string
	MatchedHash string
	RecordID    uuid.UUID
	StorageKeys []string
}

// Reporter advances the caller's view of the item between stages.
type Reporter func(status constants.QueueStatus) error

// Processor runs upload, extract, normalize and save for one job.
type Processor struct {
	Logger       *slog.Logger
	Upload       *UploadStage
	Extract      *ExtractStage
	Normalize    *NormalizeStage
	Save         *SaveStage
	StageTimeout time.Duration
}

func NewProcessor(logger *slog.Logger, upload *UploadStage, ex *ExtractStage, norm *NormalizeStage, save *SaveStage, stageTimeout time.Duration) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if norm == nil {
		norm = NewNormalizeStage()
	}
	return &Processor{
		Logger:       logger,
		Upload:       upload,
		Extract:      ex,
		Normalize:    norm,
		Save:         save,
		StageTimeout: stageTimeout,
	}
}

// Process expects the item to already be uploading. It never returns an error;
// failures come back classified in the Outcome.
func (p *Processor) Process(ctx context.Context, job Job, report Reporter) Outcome {
	start := time.Now()

	refs, err := runStage(ctx, p.StageTimeout, StageUpload, func(ctx context.Context) ([]extract.ImageRef, error) {
		return p.Upload.Run(ctx, job)
	})
	keys := storageKeys(refs)
	if err != nil {
		return p.fail(job, StageUpload, err, keys)
	}

	if err := report(constants.StatusExtracting); err != nil {
		return p.fail(job, StageExtract, err, keys)
	}
	res, err := runStage(ctx, p.StageTimeout, StageExtract, func(ctx context.Context) (extract.Result, error) {
		return p.Extract.Run(ctx, refs, job.Org)
	})
	if err != nil {
		return p.fail(job, StageExtract, err, keys)
	}
	hash := ""
	if len(res.ContentHashes) > 0 {
		hash = res.ContentHashes[0]
	}
	if res.Duplicate {
		p.Logger.Info("processor.duplicate", "item_id", job.ItemID, "matched_hash", res.MatchedHash)
		return Outcome{Status: constants.StatusDuplicate, ContentHash: hash, MatchedHash: res.MatchedHash, StorageKeys: keys}
	}

	fields := p.Normalize.Run(res.Fields)

	if err := report(constants.StatusSaving); err != nil {
		return p.fail(job, StageSave, err, keys)
	}
	saved, err := runStage(ctx, p.StageTimeout, StageSave, func(ctx context.Context) (SaveResult, error) {
		return p.Save.Run(ctx, SaveRequest{
			StorageKeys:   keys,
			ContentHashes: res.ContentHashes,
			Fields:        fields,
			Org:           job.Org,
		})
	})
	if err != nil {
		return p.fail(job, StageSave, err, keys)
	}
	if saved.Duplicate {
		return Outcome{Status: constants.StatusDuplicate, ContentHash: hash, MatchedHash: hash, RecordID: saved.RecordID, StorageKeys: keys}
	}

	p.Logger.Info("processor.complete",
		"item_id", job.ItemID,
		"record_id", saved.RecordID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Outcome{Status: constants.StatusComplete, ContentHash: hash, RecordID: saved.RecordID, StorageKeys: keys}
}

// fail logs uploaded keys because nothing reclaims them once the item is abandoned.
func (p *Processor) fail(job Job, stage string, err error, keys []string) Outcome {
	p.Logger.Error("processor.failed",
		"item_id", job.ItemID,
		"stage", stage,
		"code", common.Classify(err),
		"storage_keys", keys,
		"error", err,
	)
	return Outcome{Status: constants.StatusFailed, Stage: stage, Err: err, StorageKeys: keys}
}

// runStage bounds fn by timeout. The worker moves on when the deadline passes
// even if fn ignores its context; a panic in fn becomes an error.
func runStage[T any](ctx context.Context, timeout time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	stageCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: common.NewAppError(common.CodeInternal, fmt.Sprintf("%s stage panicked: %v", stage, r), common.ErrInternal)}
			}
		}()
		v, err := fn(stageCtx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return r.v, timeoutError(stage, timeout)
		}
		return r.v, r.err
	case <-stageCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(stage, timeout)
	}
}

func timeoutError(stage string, timeout time.Duration) error {
	return common.NewAppError(common.CodeTransientNetwork,
		fmt.Sprintf("%s stage timed out after %s", stage, timeout), context.DeadlineExceeded)
}

func storageKeys(refs []extract.ImageRef) []string {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.StorageKey)
	}
	return keys
}
