// Package timing computes elapsed waiting, processing, and hold time for
// tickets and their department visits. All functions are pure: they read
// timestamp pairs and persisted counters, never mutate, and are safe for any
// number of concurrent callers.
package timing

import (
	"time"

	"octech/queue-service/internal/models"
)

// WaitingSeconds returns the waiting time of one department visit. For an
// open entry that has not been claimed by a room the value is computed live
// from the entry creation time; once the entry starts or closes the persisted
// counter is authoritative.
func WaitingSeconds(entry models.HistoryEntry, now time.Time) int64 {
	if entry.Completed || entry.StartedAt != nil {
		return entry.WaitingDurationSeconds
	}
	return clampSeconds(now.Sub(entry.Timestamp))
}

// ProcessingSeconds returns the processing time of one department visit.
// The processing clock stops while the ticket is held and resumes from the
// unhold instant, so hold time never leaks into processing.
func ProcessingSeconds(entry models.HistoryEntry, now time.Time) int64 {
	if entry.Completed || entry.StartedAt == nil || entry.HoldStartedAt != nil {
		return entry.ProcessingDurationSeconds
	}
	anchor := *entry.StartedAt
	if entry.ProcessingResumedAt != nil {
		anchor = *entry.ProcessingResumedAt
	}
	return entry.ProcessingDurationSeconds + clampSeconds(now.Sub(anchor))
}

// HoldSeconds returns accumulated hold time plus the in-progress hold, if any.
func HoldSeconds(entry models.HistoryEntry, now time.Time) int64 {
	total := entry.HoldDurationSeconds
	if entry.HoldStartedAt != nil && !entry.Completed {
		total += clampSeconds(now.Sub(*entry.HoldStartedAt))
	}
	return total
}

// TotalSeconds returns the ticket's lifetime. Frozen at completion, live otherwise.
func TotalSeconds(ticket models.Ticket, now time.Time) int64 {
	if ticket.TotalDurationSeconds != nil {
		return *ticket.TotalDurationSeconds
	}
	return clampSeconds(now.Sub(ticket.CreatedAt))
}

func clampSeconds(d time.Duration) int64 {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}
