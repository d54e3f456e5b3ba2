package router

import (
	"time"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"
)

// openEntry starts a new department visit. Exactly one entry per ticket may
// be open at a time; the caller must have closed the previous one.
func openEntry(ticket *models.Ticket, department string, roomID *string, now time.Time) error {
	if ticket.ActiveEntry() != nil {
		return store.ErrActiveEntryExists
	}
	ticket.History = append(ticket.History, models.HistoryEntry{
		Department: department,
		RoomID:     roomID,
		Timestamp:  now,
	})
	return nil
}

// closeActiveEntry finalizes the open department visit: any running hold is
// folded into the hold counter, the processing clock is folded unless it was
// already frozen by that hold, and waiting is persisted for entries that were
// never claimed by a room. Closed entries are never mutated again.
func closeActiveEntry(ticket *models.Ticket, now time.Time) error {
	entry := ticket.ActiveEntry()
	if entry == nil {
		return store.ErrNoActiveEntry
	}

	wasHeld := entry.HoldStartedAt != nil
	if wasHeld {
		entry.HoldDurationSeconds += seconds(now.Sub(*entry.HoldStartedAt))
		entry.HoldStartedAt = nil
	}

	if entry.StartedAt == nil {
		entry.WaitingDurationSeconds = seconds(now.Sub(entry.Timestamp))
	} else if !wasHeld {
		entry.ProcessingDurationSeconds += seconds(now.Sub(processingAnchor(entry)))
	}
	entry.ProcessingResumedAt = nil

	entry.Completed = true
	entry.CompletedAt = &now
	return nil
}

// processingAnchor is the instant the current processing segment began.
func processingAnchor(entry *models.HistoryEntry) time.Time {
	if entry.ProcessingResumedAt != nil {
		return *entry.ProcessingResumedAt
	}
	return *entry.StartedAt
}

func seconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 0 {
		return 0
	}
	return s
}
