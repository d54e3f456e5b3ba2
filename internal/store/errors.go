package store

import "errors"

var (
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrRoomNotFound           = errors.New("room not found")
	ErrInvalidTransition      = errors.New("invalid transition for current ticket state")
	ErrRoomOccupied           = errors.New("room already serving another ticket")
	ErrRoomUnavailable        = errors.New("room unavailable")
	ErrConcurrentModification = errors.New("ticket modified concurrently")
	ErrPlanExhausted          = errors.New("queue plan exhausted")
	ErrActiveEntryExists      = errors.New("ticket already has an open department entry")
	ErrNoActiveEntry          = errors.New("ticket has no open department entry")
	ErrAccessDenied           = errors.New("access denied")
	ErrNoRoomAvailable        = errors.New("no room available")
)
