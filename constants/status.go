package constants

import (
	"fmt"
	"strings"
)

// QueueStatus is the lifecycle state of a card in the processing queue.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusUploading  QueueStatus = "uploading"
	StatusExtracting QueueStatus = "extracting"
	StatusSaving     QueueStatus = "saving"
	StatusComplete   QueueStatus = "complete"
	StatusDuplicate  QueueStatus = "duplicate"
	StatusFailed     QueueStatus = "failed"
)

var allStatuses = []QueueStatus{
	StatusPending,
	StatusUploading,
	StatusExtracting,
	StatusSaving,
	StatusComplete,
	StatusDuplicate,
	StatusFailed,
}

// transitions lists every legal edge of the status graph. Retry (failed -> pending)
// is included here but only the queue's Retry operation may take it.
var transitions = map[QueueStatus][]QueueStatus{
	StatusPending:    {StatusUploading},
	StatusUploading:  {StatusExtracting, StatusFailed},
	StatusExtracting: {StatusSaving, StatusDuplicate, StatusFailed},
	StatusSaving:     {StatusComplete, StatusDuplicate, StatusFailed},
	StatusFailed:     {StatusPending},
}

var processingStatuses = map[QueueStatus]struct{}{
	StatusUploading:  {},
	StatusExtracting: {},
	StatusSaving:     {},
}

// AllStatuses returns statuses in pipeline order.
func AllStatuses() []QueueStatus {
	out := make([]QueueStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsProcessing reports whether the status is an in-flight pipeline stage.
func (s QueueStatus) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// IsTerminal reports whether no automatic transition leaves the status.
func (s QueueStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusDuplicate
}

// IsRemovable reports whether a user may delete an item in this status.
func (s QueueStatus) IsRemovable() bool {
	return s == StatusFailed || s == StatusDuplicate
}

func ParseStatus(value string) (QueueStatus, error) {
	normalized := QueueStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown queue status %q", value)
}
