package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/scan"
)

// BatchCards lists the saved records of a batch.
type BatchCards interface {
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.CardRecord, error)
}

const (
	summarySheet = "Summary"
	cardsSheet   = "Cards"
	recordsSheet = "Records"
)

// Service produces XLSX bytes for a finished scan session.
type Service struct {
	cards  BatchCards
	logger *slog.Logger
}

// NewService accepts a nil cards source; the Records sheet is then left empty.
func NewService(cards BatchCards, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cards: cards, logger: logger}
}

// SessionXLSX returns a workbook with the session totals, one row per queued
// card and, when the session had a batch, the batch's saved records.
func (s *Service) SessionXLSX(ctx context.Context, sum scan.Summary) ([]byte, error) {
	start := time.Now()
	if sum.Session == nil {
		return nil, fmt.Errorf("export: summary has no session")
	}

	var recs []*entity.CardRecord
	if s.cards != nil && sum.Session.BatchID != "" {
		batchID, err := uuid.Parse(sum.Session.BatchID)
		if err != nil {
			return nil, fmt.Errorf("export: batch id: %w", err)
		}
		recs, err = s.cards.ListByBatch(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("query batch records: %w", err)
		}
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, name := range []string{cardsSheet, recordsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	sess := sum.Session
	summary := [][]any{
		{"Location", sess.LocationID},
		{"Batch", sess.BatchName},
		{"Card Type", string(sess.CardType)},
		{"Started", sess.StartedAt.Format(time.RFC3339)},
		{"Cards Scanned", sess.CardsScanned},
		{"Complete", sum.Stats.Complete},
		{"Duplicate", sum.Stats.Duplicate},
		{"Failed", sum.Stats.Failed},
	}
	for i, row := range summary {
		writeRow(f, summarySheet, i+1, row)
	}

	writeRow(f, cardsSheet, 1, []any{"#", "Front", "Back", "Status", "Retries", "Error", "Content Hash", "Record ID"})
	for i, it := range sum.Items {
		back := ""
		if it.Back != nil {
			back = it.Back.FileName
		}
		errMsg := ""
		if it.Error != nil {
			errMsg = it.Error.Message
		}
		record := ""
		if it.RecordID != uuid.Nil {
			record = it.RecordID.String()
		}
		writeRow(f, cardsSheet, i+2, []any{
			i + 1, it.Front.FileName, back, string(it.Status), it.RetryCount, errMsg, it.ContentHash, record,
		})
	}

	writeRow(f, recordsSheet, 1, []any{"Name", "Email", "Phone", "Visit Status", "Interests", "Keywords", "Notes", "Saved"})
	for i, r := range recs {
		fl := r.Fields
		writeRow(f, recordsSheet, i+2, []any{
			fl.DisplayName(),
			fl.Email,
			fl.Phone,
			fl.VisitStatus,
			strings.Join(fl.Interests, ", "),
			strings.Join(fl.Keywords, ", "),
			truncate(fl.Notes, 140),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)
	_ = f.SetColWidth(cardsSheet, "B", "C", 28)
	_ = f.SetColWidth(cardsSheet, "F", "F", 48)
	_ = f.SetColWidth(cardsSheet, "G", "H", 40)
	_ = f.SetColWidth(recordsSheet, "A", "C", 24)
	_ = f.SetColWidth(recordsSheet, "E", "G", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"batch_id", sess.BatchID,
		"cards", len(sum.Items),
		"records", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
