package session

import (
	"time"

	"github.com/joseph-ayodele/connect-cards/constants"
)

// StorageKey is the one well-known key the session blob lives under.
const StorageKey = "connect-cards.scan-session"

// ScanSession is the durable part of a scanning session.
type ScanSession struct {
	CardType     constants.CardType `json:"cardType"`
	LocationID   string             `json:"locationId"`
	CardsScanned int                `json:"cardsScanned"`
	BatchID      string             `json:"batchId,omitempty"`
	BatchName    string             `json:"batchName,omitempty"`
	Complete     int                `json:"complete"`
	Duplicate    int                `json:"duplicate"`
	Failed       int                `json:"failed"`
	StartedAt    time.Time          `json:"startedAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Clone returns an independent copy.
func (s *ScanSession) Clone() *ScanSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

const lockRetryDelay = 20 * time.Millisecond
