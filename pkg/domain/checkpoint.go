package domain

import "time"

// Checkpoint is the durable snapshot written when a turn pauses for human
// input. It is owned exclusively by the checkpoint manager: created on pause,
// deleted when the turn resumes and completes or expires.
type Checkpoint struct {
	ConversationID string    `json:"conversation_id"`
	Stage          string    `json:"stage"` // cursor: the stage to re-enter on resume
	State          *State    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the checkpoint's expiry has passed. A zero
// ExpiresAt never expires.
func (c *Checkpoint) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
