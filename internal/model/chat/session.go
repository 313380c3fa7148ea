package chat

import "time"

// Session is one conversation owned by a user. The title starts empty and is
// derived from the first user message; UpdatedAt is bumped after every turn.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
