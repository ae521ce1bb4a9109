package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/crm"
)

type SaveStage struct {
	Records RecordSaver
	Fanout  ContactFanout
	Logger  *slog.Logger
}

func NewSaveStage(records RecordSaver, fanout ContactFanout, logger *slog.Logger) *SaveStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveStage{Records: records, Fanout: fanout, Logger: logger}
}

// Run persists the card and, only for a newly saved record, hands the contact to
// the CRM fan-out without waiting on it.
func (s *SaveStage) Run(ctx context.Context, req SaveRequest) (SaveResult, error) {
	res, err := s.Records.SaveCard(ctx, req)
	if err != nil {
		s.Logger.Error("pipeline.save.failed", "org_id", req.Org.OrgID, "error", err)
		code := common.Classify(err)
		if code != common.CodeTransientNetwork {
			code = common.CodePersistence
		}
		return SaveResult{}, common.NewAppError(code, "save card", err)
	}
	if res.Duplicate {
		s.Logger.Info("pipeline.save.duplicate", "record_id", res.RecordID)
		return res, nil
	}

	if s.Fanout != nil {
		s.Fanout.Enqueue(crm.Contact{
			RecordID:   res.RecordID,
			OrgID:      req.Org.OrgID,
			LocationID: req.Org.LocationID,
			BatchID:    req.Org.BatchID,
			Fields:     req.Fields,
		})
	}
	s.Logger.Info("pipeline.save.ok", "record_id", res.RecordID)
	return res, nil
}
