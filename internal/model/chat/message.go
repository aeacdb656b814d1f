package chat

import "time"

// Message is one durable line of a two-party conversation.
// Only IsRead changes after creation, and only from false to true.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"isRead"`
}

// FormatTimestamp renders ts as an ISO-8601 string in UTC.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
