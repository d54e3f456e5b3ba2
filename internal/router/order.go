package router

import (
	"sort"

	"octech/queue-service/internal/models"
)

// OrderWaiting produces serving order for a department's waiting set:
// emergency tickets first, then ascending creation time. The sort is stable,
// so same-priority tickets keep their FIFO order. Pure function, safe to call
// concurrently.
func OrderWaiting(tickets []models.Ticket) []models.Ticket {
	ordered := make([]models.Ticket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Emergency != ordered[j].Emergency {
			return ordered[i].Emergency
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}
