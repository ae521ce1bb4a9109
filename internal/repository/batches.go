package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

var batchColumns = []string{"id", "org_id", "location_id", "name", "created_at"}

type BatchRepository interface {
	Create(ctx context.Context, orgID, locationID, name string) (*entity.Batch, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Batch, error)
}

type batchRepository struct {
	client *Client
	logger *slog.Logger
}

func NewBatchRepository(client *Client, logger *slog.Logger) BatchRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &batchRepository{client: client, logger: logger}
}

func (r *batchRepository) Create(ctx context.Context, orgID, locationID, name string) (*entity.Batch, error) {
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return nil, fmt.Errorf("create batch: org and name are required: %w", common.ErrInvalidInput)
	}
	b := &entity.Batch{
		ID:         uuid.New(),
		OrgID:      orgID,
		LocationID: locationID,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
	}
	query, args := r.client.builder().
		Insert(batchesTable).
		Columns(batchColumns...).
		Values(b.ID, b.OrgID, b.LocationID, b.Name, b.CreatedAt).
		Query()
	if _, err := r.client.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to create batch", "org_id", orgID, "name", name, "error", err)
		return nil, fmt.Errorf("create batch: %w: %w", common.ErrDatabase, err)
	}
	r.logger.Info("batch created", "batch_id", b.ID, "org_id", orgID, "name", name)
	return b, nil
}

func (r *batchRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Batch, error) {
	query, args := r.client.builder().
		Select(batchColumns...).
		From(entsql.Table(batchesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := r.client.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get batch: %w: %w", common.ErrDatabase, err)
		}
		return nil, fmt.Errorf("batch %s: %w", id, common.ErrNotFound)
	}
	var b entity.Batch
	if err := rows.Scan(&b.ID, &b.OrgID, &b.LocationID, &b.Name, &b.CreatedAt); err != nil {
		return nil, fmt.Errorf("get batch: %w: %w", common.ErrDatabase, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
