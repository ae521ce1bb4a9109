package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
)

type ExtractStage struct {
	Extractor Extractor
	Logger    *slog.Logger
}

func NewExtractStage(ex Extractor, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{Extractor: ex, Logger: logger}
}

// Run returns a duplicate verdict as a normal result, not an error.
func (s *ExtractStage) Run(ctx context.Context, refs []extract.ImageRef, org entity.OrgContext) (extract.Result, error) {
	res, err := s.Extractor.Extract(ctx, extract.Request{Images: refs, Org: org})
	if err != nil {
		err = extractError(err)
		s.Logger.Error("pipeline.extract.failed", "code", common.Classify(err), "error", err)
		return res, err
	}
	return res, nil
}

// extractError is the mirror of uploadError: the extraction service refusing
// the images (400, 413, 415, 422) means the card needs a recapture, so an
// upload code leaking out of an extractor is remapped.
func extractError(err error) error {
	code := common.Classify(err)
	if code == common.CodeUploadRejected {
		code = common.CodeExtractionValidation
	}
	return common.NewAppError(code, "extract card fields", err)
}
