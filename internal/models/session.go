package models

// Session is the staff context issued by the auth collaborator. The router
// only reads it to authorize transitions; it is never persisted here.
type Session struct {
	StaffID    string `json:"staff_id"`
	RoomID     string `json:"room_id,omitempty"`
	Department string `json:"department,omitempty"`
}
