package models

// Invite is a pending invitation of Player into the clan Code.
type Invite struct {
	Code   string `json:"code"`
	Player string `json:"player"`
}
