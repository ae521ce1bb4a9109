package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

var cardColumns = []string{
	"id", "org_id", "location_id", "front_key", "back_key",
	"content_hash", "back_content_hash", "fields", "created_at", "batch_id",
}

type CardRepository interface {
	// FindByHash returns common.ErrNotFound when no card of the org has the hash.
	FindByHash(ctx context.Context, orgID, hash string) (*entity.CardRecord, error)
	// UpsertByHash inserts rec unless the org already has its content hash, in
	// which case the existing row is returned with dedup set.
	UpsertByHash(ctx context.Context, rec *entity.CardRecord) (row *entity.CardRecord, dedup bool, err error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.CardRecord, error)
	CountByOrg(ctx context.Context, orgID string) (int, error)
}

type cardRepository struct {
	client *Client
	logger *slog.Logger
}

func NewCardRepository(client *Client, logger *slog.Logger) CardRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &cardRepository{client: client, logger: logger}
}

func (r *cardRepository) FindByHash(ctx context.Context, orgID, hash string) (*entity.CardRecord, error) {
	query, args := r.client.builder().
		Select(cardColumns...).
		From(entsql.Table(cardsTable)).
		Where(entsql.And(entsql.EQ("org_id", orgID), entsql.EQ("content_hash", hash))).
		Limit(1).
		Query()
	recs, err := r.list(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to find card by hash", "org_id", orgID, "content_hash", hash, "error", err)
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("card %s: %w", hash, common.ErrNotFound)
	}
	return recs[0], nil
}

func (r *cardRepository) UpsertByHash(ctx context.Context, rec *entity.CardRecord) (*entity.CardRecord, bool, error) {
	if rec.ContentHash == "" {
		return nil, false, common.NewAppError(common.CodePersistence, "content hash is required", common.ErrInvalidInput)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, false, fmt.Errorf("encode card fields: %w", err)
	}

	var batchID any
	if rec.BatchID != nil {
		batchID = *rec.BatchID
	}
	query, args := r.client.builder().
		Insert(cardsTable).
		Columns(cardColumns...).
		Values(
			rec.ID, rec.OrgID, rec.LocationID, rec.FrontKey, nullString(rec.BackKey),
			rec.ContentHash, nullString(rec.BackContentHash), string(fields), rec.CreatedAt, batchID,
		).
		OnConflict(entsql.ConflictColumns("org_id", "content_hash"), entsql.DoNothing()).
		Query()

	res, err := r.client.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to insert card", "org_id", rec.OrgID, "content_hash", rec.ContentHash, "error", err)
		return nil, false, fmt.Errorf("insert card: %w: %w", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert card: %w: %w", common.ErrDatabase, err)
	}
	if n > 0 {
		r.logger.Debug("card inserted", "card_id", rec.ID, "content_hash", rec.ContentHash)
		out := *rec
		return &out, false, nil
	}

	existing, err := r.FindByHash(ctx, rec.OrgID, rec.ContentHash)
	if err != nil {
		return nil, false, fmt.Errorf("load conflicting card: %w", err)
	}
	r.logger.Info("card deduplicated", "card_id", existing.ID, "content_hash", rec.ContentHash)
	return existing, true, nil
}

func (r *cardRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.CardRecord, error) {
	query, args := r.client.builder().
		Select(cardColumns...).
		From(entsql.Table(cardsTable)).
		Where(entsql.EQ("batch_id", batchID)).
		OrderBy("created_at", "id").
		Query()
	recs, err := r.list(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to list cards", "batch_id", batchID, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *cardRepository) CountByOrg(ctx context.Context, orgID string) (int, error) {
	query, args := r.client.builder().
		Select(entsql.Count("*")).
		From(entsql.Table(cardsTable)).
		Where(entsql.EQ("org_id", orgID)).
		Query()
	rows, err := r.client.query(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("count cards: %w: %w", common.ErrDatabase, err)
		}
	}
	return n, rows.Err()
}

func (r *cardRepository) list(ctx context.Context, query string, args []any) ([]*entity.CardRecord, error) {
	rows, err := r.client.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.CardRecord
	for rows.Next() {
		rec, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w: %w", common.ErrDatabase, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query cards: %w: %w", common.ErrDatabase, err)
	}
	return out, nil
}

func scanCard(rows *entsql.Rows) (*entity.CardRecord, error) {
	var (
		rec       entity.CardRecord
		backKey   sql.NullString
		backHash  sql.NullString
		fields    []byte
		batchID   uuid.NullUUID
		createdAt time.Time
	)
	if err := rows.Scan(
		&rec.ID, &rec.OrgID, &rec.LocationID, &rec.FrontKey, &backKey,
		&rec.ContentHash, &backHash, &fields, &createdAt, &batchID,
	); err != nil {
		return nil, err
	}
	rec.BackKey = backKey.String
	rec.BackContentHash = backHash.String
	rec.CreatedAt = createdAt.UTC()
	if batchID.Valid {
		id := batchID.UUID
		rec.BatchID = &id
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, errors.Join(errors.New("decode card fields"), err)
		}
	}
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
