package chat

import "time"

// Inbound socket actions.
const (
	ActionLoadMessages = "load_messages"
	ActionSendMessage  = "send_message"
)

// Command is the union of every inbound socket payload.
type Command struct {
	Action       string `json:"action"`
	SelectedUser string `json:"selected_user,omitempty"`
	Message      string `json:"message,omitempty"`
	Sender       string `json:"sender,omitempty"`
	Receiver     string `json:"receiver,omitempty"`
}

// SendMessage is the validated form of a send_message command.
type SendMessage struct {
	Message  string `validate:"required"`
	Sender   string `validate:"required"`
	Receiver string `validate:"required"`
}

// HistoryEntry is one line of a load_messages reply.
// The sender field name is kept as historically emitted by existing clients.
type HistoryEntry struct {
	Message   string `json:"message"`
	Sender    string `json:"sender__username"`
	Timestamp string `json:"timestamp"`
}

// HistoryReply answers a load_messages command.
type HistoryReply struct {
	Action   string         `json:"action"`
	Messages []HistoryEntry `json:"messages"`
}

// DeliveryEvent is pushed to a socket for backlog replay and live relay.
// Timestamp is empty for live relay unless live timestamps are enabled.
type DeliveryEvent struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChatEvent is what a room broadcast carries to each member.
type ChatEvent struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHistoryEntry converts a stored message into its wire form.
func NewHistoryEntry(m Message) HistoryEntry {
	return HistoryEntry{
		Message:   m.Body,
		Sender:    m.Sender,
		Timestamp: FormatTimestamp(m.Timestamp),
	}
}

// NewBacklogEvent converts an unread message into a delivery event.
func NewBacklogEvent(m Message) DeliveryEvent {
	return DeliveryEvent{
		Message:   m.Body,
		Sender:    m.Sender,
		Timestamp: FormatTimestamp(m.Timestamp),
	}
}
