package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/connect-cards/internal/common"
)

// Service is the extraction collaborator: it fingerprints each image, answers
// duplicates from previously saved cards, and otherwise asks the field extractor.
type Service struct {
	Hashes HashLookup
	Fields FieldExtractor
	Logger *slog.Logger
}

func NewService(hashes HashLookup, fields FieldExtractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Hashes: hashes, Fields: fields, Logger: logger}
}

// Extract only compares the front image hash; the back of a card is commonly
// a shared preprinted layout.
func (s *Service) Extract(ctx context.Context, req Request) (Result, error) {
	if len(req.Images) == 0 {
		return Result{}, common.NewAppError(common.CodeExtractionValidation, "no images to extract", common.ErrValidation)
	}
	start := time.Now()

	hashes := make([]string, len(req.Images))
	for i, img := range req.Images {
		if len(img.Data) == 0 {
			return Result{}, common.NewAppError(common.CodeExtractionValidation, fmt.Sprintf("%s image is empty", img.Side), common.ErrValidation)
		}
		hashes[i] = ContentHash(img.Data)
	}

	existing, err := s.Hashes.FindByHash(ctx, req.Org.OrgID, hashes[0])
	switch {
	case err == nil && existing != nil:
		s.Logger.Info("extract.duplicate",
			"org_id", req.Org.OrgID,
			"content_hash", hashes[0],
			"record_id", existing.ID,
		)
		return Result{ContentHashes: hashes, Duplicate: true, MatchedHash: hashes[0]}, nil
	case err != nil && !errors.Is(err, common.ErrNotFound):
		return Result{}, common.NewAppError(common.CodePersistence, "lookup content hash", err)
	}

	fields, raw, err := s.Fields.ExtractCardFields(ctx, req.Images)
	if err != nil {
		s.Logger.Error("extract.fields.failed", "content_hash", hashes[0], "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{ContentHashes: hashes}, err
	}

	s.Logger.Info("extract.ok",
		"content_hash", hashes[0],
		"images", len(req.Images),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Result{Fields: fields, ContentHashes: hashes, RawJSON: raw}, nil
}
