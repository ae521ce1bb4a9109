package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/crm"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
)

const (
	SideFront = "front"
	SideBack  = "back"
)

// Image is one captured side of a card.
type Image struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Job is everything the stages need to process one queue item.
type Job struct {
	ItemID uuid.UUID
	Front  Image
	Back   *Image
	Org    entity.OrgContext
}

type UploadRequest struct {
	FileName    string
	ContentType string
	Size        int64
	Org         entity.OrgContext
}

type UploadTicket struct {
	UploadURL  string
	StorageKey string
}

// Uploader is the image upload service.
type Uploader interface {
	RequestUpload(ctx context.Context, req UploadRequest) (UploadTicket, error)
	Transfer(ctx context.Context, uploadURL string, data []byte, contentType string) error
}

// Extractor is the vision extraction service.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (extract.Result, error)
}

type SaveRequest struct {
	StorageKeys   []string
	ContentHashes []string
	Fields        entity.CardFields
	Org           entity.OrgContext
}

// SaveResult reports Duplicate when another card with the same content hash
// was saved first; RecordID then names that card.
type SaveResult struct {
	RecordID  uuid.UUID
	Duplicate bool
}

// RecordSaver is the persistence service.
type RecordSaver interface {
	SaveCard(ctx context.Context, req SaveRequest) (SaveResult, error)
}

// ContactFanout receives saved contacts for best-effort CRM sync.
type ContactFanout interface {
	Enqueue(c crm.Contact) bool
}
