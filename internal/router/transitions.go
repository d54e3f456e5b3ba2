package router

import "octech/queue-service/internal/models"

const (
	TransitionClaim       = "claim"
	TransitionHold        = "hold"
	TransitionUnhold      = "unhold"
	TransitionRedirect    = "redirect"
	TransitionForward     = "forward"
	TransitionForwardPlan = "forward_plan"
	TransitionClear       = "clear"
	TransitionNoShow      = "no_show"
	TransitionEmergency   = "emergency"
	TransitionCall        = "call"
)

var transitionMap = map[string][]string{
	TransitionClaim:       {models.StatusWaiting},
	TransitionHold:        {models.StatusWaiting, models.StatusServing},
	TransitionUnhold:      {models.StatusHeld},
	TransitionRedirect:    {models.StatusServing},
	TransitionForward:     {models.StatusWaiting, models.StatusServing},
	TransitionForwardPlan: {models.StatusWaiting, models.StatusServing},
	TransitionClear:       {models.StatusWaiting, models.StatusServing},
	TransitionNoShow:      {models.StatusWaiting, models.StatusServing, models.StatusHeld},
	TransitionEmergency:   {models.StatusWaiting, models.StatusServing, models.StatusHeld},
	TransitionCall:        {models.StatusWaiting, models.StatusServing, models.StatusHeld},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
