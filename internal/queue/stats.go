package queue

import "github.com/joseph-ayodele/connect-cards/constants"

// Stats is derived from the queue on demand and never stored.
type Stats struct {
	Total        int
	Pending      int
	Uploading    int
	Extracting   int
	Saving       int
	Complete     int
	Duplicate    int
	Failed       int
	IsProcessing bool
	CanFinish    bool
}

// Compute aggregates counts and flags over items.
func Compute(items []Item) Stats {
	var s Stats
	for i := range items {
		s.add(items[i].Status)
	}
	return s.finalize()
}

func computeFrom(items []*Item) Stats {
	var s Stats
	for _, it := range items {
		s.add(it.Status)
	}
	return s.finalize()
}

func (s *Stats) add(status constants.QueueStatus) {
	s.Total++
	switch status {
	case constants.StatusPending:
		s.Pending++
	case constants.StatusUploading:
		s.Uploading++
	case constants.StatusExtracting:
		s.Extracting++
	case constants.StatusSaving:
		s.Saving++
	case constants.StatusComplete:
		s.Complete++
	case constants.StatusDuplicate:
		s.Duplicate++
	case constants.StatusFailed:
		s.Failed++
	}
}

func (s Stats) finalize() Stats {
	s.IsProcessing = s.Uploading+s.Extracting+s.Saving > 0
	s.CanFinish = s.Pending == 0 && !s.IsProcessing
	return s
}

// InFlight is the number of items in an active stage.
func (s Stats) InFlight() int {
	return s.Uploading + s.Extracting + s.Saving
}
