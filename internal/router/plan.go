package router

import (
	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"
)

// installPlan overwrites any existing plan. An incomplete remainder is
// discarded, never merged: staff picking a new set of departments means
// exactly that set.
func installPlan(ticket *models.Ticket, steps []models.PlanStep) {
	ticket.Plan = &models.QueuePlan{Steps: steps}
}

// advancePlan marks the current step processed and moves the cursor forward.
// Past the last step it returns ErrPlanExhausted and leaves the plan alone;
// the ticket simply stays in the final department and routing falls back to
// manual selection.
func advancePlan(ticket *models.Ticket) (models.PlanStep, error) {
	plan := ticket.Plan
	if plan == nil || len(plan.Steps) == 0 {
		return models.PlanStep{}, store.ErrPlanExhausted
	}
	if plan.CurrentIndex >= len(plan.Steps)-1 {
		return models.PlanStep{}, store.ErrPlanExhausted
	}
	plan.Steps[plan.CurrentIndex].Processed = true
	plan.CurrentIndex++
	return plan.Steps[plan.CurrentIndex], nil
}
