package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
	"github.com/joseph-ayodele/connect-cards/internal/scan"
	"github.com/joseph-ayodele/connect-cards/internal/session"
)

type stubCards struct {
	recs  []*entity.CardRecord
	err   error
	asked uuid.UUID
}

func (s *stubCards) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*entity.CardRecord, error) {
	s.asked = batchID
	return s.recs, s.err
}

var batchID = uuid.MustParse("c3d1d7b2-9a41-4e0f-8d57-2b6f3f1e9a10")

func summary() scan.Summary {
	return scan.Summary{
		Session: &session.ScanSession{
			CardType:     constants.CardTypeDouble,
			LocationID:   "north",
			CardsScanned: 2,
			BatchID:      batchID.String(),
			BatchName:    "Sunday",
			StartedAt:    time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		},
		Stats: queue.Stats{Total: 2, Complete: 1, Failed: 1},
		Items: []queue.Item{
			{
				Front:    queue.CapturedImage{FileName: "card-01.jpg"},
				Back:     &queue.CapturedImage{FileName: "card-01_back.jpg"},
				Status:   constants.StatusComplete,
				RecordID: uuid.MustParse("0b6e3a57-7c43-4b7e-9f1d-1c2b3a4d5e6f"),
			},
			{
				Front:      queue.CapturedImage{FileName: "card-02.jpg"},
				Status:     constants.StatusFailed,
				RetryCount: 2,
				Error:      &queue.ItemError{Code: "RATE_LIMITED", Message: "Too many requests, try again shortly"},
			},
		},
	}
}

func TestSessionXLSX(t *testing.T) {
	cards := &stubCards{recs: []*entity.CardRecord{{
		Fields: entity.CardFields{
			FirstName: "Grace",
			LastName:  "Mensah",
			Email:     "grace@example.com",
			Interests: []string{"choir", "youth"},
		},
		CreatedAt: time.Date(2026, 2, 1, 9, 5, 0, 0, time.UTC),
	}}}
	svc := NewService(cards, nil)

	data, err := svc.SessionXLSX(context.Background(), summary())
	require.NoError(t, err)
	assert.Equal(t, batchID, cards.asked)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"Summary", "Cards", "Records"}, f.GetSheetList())

	v, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Sunday", v)
	v, _ = f.GetCellValue("Summary", "B5")
	assert.Equal(t, "2", v)

	rows, err := f.GetRows("Cards")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "card-01_back.jpg", rows[1][2])
	assert.Equal(t, "complete", rows[1][3])
	assert.Equal(t, "0b6e3a57-7c43-4b7e-9f1d-1c2b3a4d5e6f", rows[1][7])
	assert.Equal(t, "failed", rows[2][3])
	assert.Equal(t, "Too many requests, try again shortly", rows[2][5])

	rows, err = f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Grace Mensah", rows[1][0])
	assert.Equal(t, "choir, youth", rows[1][4])
}

func TestSessionXLSX_WithoutBatch(t *testing.T) {
	sum := summary()
	sum.Session.BatchID = ""
	cards := &stubCards{err: errors.New("should not be called")}

	data, err := NewService(cards, nil).SessionXLSX(context.Background(), sum)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, uuid.Nil, cards.asked)
}

func TestSessionXLSX_Errors(t *testing.T) {
	_, err := NewService(nil, nil).SessionXLSX(context.Background(), scan.Summary{})
	assert.Error(t, err)

	_, err = NewService(&stubCards{err: errors.New("db down")}, nil).SessionXLSX(context.Background(), summary())
	assert.ErrorContains(t, err, "db down")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "a", truncate("abc", 1))
}
