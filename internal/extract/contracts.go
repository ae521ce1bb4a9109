package extract

import (
	"context"

	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

// ImageRef points at one uploaded side of a card.
type ImageRef struct {
	Side        string
	StorageKey  string
	ContentType string
	Data        []byte
}

type Request struct {
	Images []ImageRef
	Org    entity.OrgContext
}

// Result carries either extracted fields or a duplicate verdict. ContentHashes
// is aligned with Request.Images in both cases.
type Result struct {
	Fields        entity.CardFields
	ContentHashes []string
	Duplicate     bool
	MatchedHash   string
	RawJSON       []byte
}

// FieldExtractor reads contact fields from card images (vision model or rules).
type FieldExtractor interface {
	ExtractCardFields(ctx context.Context, images []ImageRef) (entity.CardFields, []byte, error)
}

// HashLookup finds a saved card by content hash within an organization.
// Implementations return common.ErrNotFound when no card matches.
type HashLookup interface {
	FindByHash(ctx context.Context, orgID, hash string) (*entity.CardRecord, error)
}
