package domain

import "time"

// Recipient is a user with a lesson at the resolved coordinate.
type Recipient struct {
	UserID      int64
	PushAddress string
	Locale      string
	CreatedAt   time.Time
}
