package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/pipeline"
)

// RecordStore saves pipeline output as card rows.
type RecordStore struct {
	Cards  CardRepository
	Logger *slog.Logger
}

func NewRecordStore(cards CardRepository, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordStore{Cards: cards, Logger: logger}
}

func (s *RecordStore) SaveCard(ctx context.Context, req pipeline.SaveRequest) (pipeline.SaveResult, error) {
	if len(req.StorageKeys) == 0 || len(req.ContentHashes) == 0 {
		return pipeline.SaveResult{}, common.NewAppError(common.CodePersistence, "card has no uploaded images", common.ErrInvalidInput)
	}
	rec := &entity.CardRecord{
		OrgID:       req.Org.OrgID,
		LocationID:  req.Org.LocationID,
		FrontKey:    req.StorageKeys[0],
		ContentHash: req.ContentHashes[0],
		Fields:      req.Fields,
	}
	if len(req.StorageKeys) > 1 {
		rec.BackKey = req.StorageKeys[1]
	}
	if len(req.ContentHashes) > 1 {
		rec.BackContentHash = req.ContentHashes[1]
	}
	if req.Org.BatchID != "" {
		id, err := uuid.Parse(req.Org.BatchID)
		if err != nil {
			return pipeline.SaveResult{}, common.NewAppError(common.CodePersistence, fmt.Sprintf("invalid batch id %q", req.Org.BatchID), common.ErrInvalidInput)
		}
		rec.BatchID = &id
	}

	row, dedup, err := s.Cards.UpsertByHash(ctx, rec)
	if err != nil {
		return pipeline.SaveResult{}, err
	}
	s.Logger.Debug("records.saved", "card_id", row.ID, "duplicate", dedup)
	return pipeline.SaveResult{RecordID: row.ID, Duplicate: dedup}, nil
}
