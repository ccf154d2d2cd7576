package models

// Membership is a persisted roster row. An identity has at most one.
type Membership struct {
	Code     string `json:"code"`
	Member   string `json:"member"`
	JoinedAt int64  `json:"joined_at"`
}
