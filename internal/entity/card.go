package entity

import (
	"time"

	"github.com/google/uuid"
)

// CardFields is the structured contact data read off a connect card.
type CardFields struct {
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Address     string   `json:"address,omitempty"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	VisitStatus string   `json:"visit_status,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// DisplayName joins first and last name.
func (f CardFields) DisplayName() string {
	switch {
	case f.FirstName == "":
		return f.LastName
	case f.LastName == "":
		return f.FirstName
	}
	return f.FirstName + " " + f.LastName
}

// CardRecord is a saved card for data transfer between layers.
type CardRecord struct {
	ID              uuid.UUID  `json:"id"`
	OrgID           string     `json:"org_id"`
	LocationID      string     `json:"location_id"`
	BatchID         *uuid.UUID `json:"batch_id,omitempty"`
	FrontKey        string     `json:"front_key"`
	BackKey         string     `json:"back_key,omitempty"`
	ContentHash     string     `json:"content_hash"`
	BackContentHash string     `json:"back_content_hash,omitempty"`
	Fields          CardFields `json:"fields"`
	CreatedAt       time.Time  `json:"created_at"`
}
