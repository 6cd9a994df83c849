package notification

import "time"

// TypeStatusUpdate tags notifications produced by issue transitions.
const TypeStatusUpdate = "status_update"

// Notification mirrors the notifications table. Rows are created by the
// dispatcher and only ever mutated by their recipient (mark-read).
type Notification struct {
	ID        string
	UserID    string
	IssueID   string
	Title     string
	Message   string
	Type      string
	Read      bool
	CreatedAt time.Time
}
