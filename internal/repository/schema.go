package repository

import (
	"context"
	"fmt"

	entschema "entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	cardsTable   = "connect_cards"
	batchesTable = "scan_batches"
)

var (
	// BatchesColumns holds the columns for the "scan_batches" table.
	BatchesColumns = []*entschema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "org_id", Type: field.TypeString},
		{Name: "location_id", Type: field.TypeString, Default: ""},
		{Name: "name", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	// BatchesTable holds the schema information for the "scan_batches" table.
	BatchesTable = &entschema.Table{
		Name:       batchesTable,
		Columns:    BatchesColumns,
		PrimaryKey: []*entschema.Column{BatchesColumns[0]},
		Indexes: []*entschema.Index{
			{Name: "scanbatch_org_id", Unique: false, Columns: []*entschema.Column{BatchesColumns[1]}},
		},
	}
	// CardsColumns holds the columns for the "connect_cards" table.
	CardsColumns = []*entschema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "org_id", Type: field.TypeString},
		{Name: "location_id", Type: field.TypeString, Default: ""},
		{Name: "front_key", Type: field.TypeString},
		{Name: "back_key", Type: field.TypeString, Nullable: true},
		{Name: "content_hash", Type: field.TypeString, Size: 64},
		{Name: "back_content_hash", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "fields", Type: field.TypeJSON},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "batch_id", Type: field.TypeUUID, Nullable: true},
	}
	// CardsTable holds the schema information for the "connect_cards" table.
	CardsTable = &entschema.Table{
		Name:       cardsTable,
		Columns:    CardsColumns,
		PrimaryKey: []*entschema.Column{CardsColumns[0]},
		ForeignKeys: []*entschema.ForeignKey{
			{
				Symbol:     "connect_cards_scan_batches_cards",
				Columns:    []*entschema.Column{CardsColumns[9]},
				RefColumns: []*entschema.Column{BatchesColumns[0]},
				OnDelete:   entschema.SetNull,
			},
		},
		Indexes: []*entschema.Index{
			{Name: "connectcard_org_id_content_hash", Unique: true, Columns: []*entschema.Column{CardsColumns[1], CardsColumns[5]}},
			{Name: "connectcard_batch_id", Unique: false, Columns: []*entschema.Column{CardsColumns[9]}},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*entschema.Table{
		BatchesTable,
		CardsTable,
	}
)

func init() {
	CardsTable.ForeignKeys[0].RefTable = BatchesTable
}

// Migrate creates or updates the tables. It never drops columns or indexes.
func (c *Client) Migrate(ctx context.Context) error {
	m, err := entschema.NewMigrate(c.Driver)
	if err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	c.logger.Info("db.migrated", "dialect", c.Dialect, "tables", len(Tables))
	return nil
}
