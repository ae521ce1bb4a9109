package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

// CapturedImage is owned by exactly one item. Data is released once the item
// can no longer be retried.
type CapturedImage struct {
	Data        []byte
	ContentType string
	FileName    string
	Preview     []byte
}

// ItemError is the classified failure attached to a failed item.
type ItemError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

func (e *ItemError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Item is one card moving through the queue.
type Item struct {
	ID          uuid.UUID
	Front       CapturedImage
	Back        *CapturedImage
	Org         entity.OrgContext
	Status      constants.QueueStatus
	Error       *ItemError
	RetryCount  int
	ContentHash string
	MatchedHash string
	RecordID    uuid.UUID
	StorageKeys []string
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
}

func (i *Item) clone() Item {
	out := *i
	if i.Back != nil {
		back := *i.Back
		out.Back = &back
	}
	if i.Error != nil {
		e := *i.Error
		out.Error = &e
	}
	out.StorageKeys = append([]string(nil), i.StorageKeys...)
	return out
}

func (i *Item) releaseImages() {
	i.Front.Data = nil
	if i.Back != nil {
		i.Back.Data = nil
	}
}
