package entity

import (
	"time"

	"github.com/google/uuid"
)

// Batch groups the cards of one scanning session for staff review.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	OrgID      string    `json:"org_id"`
	LocationID string    `json:"location_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrgContext scopes a card to a tenant, a location and optionally a batch.
type OrgContext struct {
	OrgID      string `json:"org_id"`
	LocationID string `json:"location_id"`
	BatchID    string `json:"batch_id,omitempty"`
}
