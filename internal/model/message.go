package model

import "time"

type MessageID string

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

func (s MessageStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Advances reports whether moving to next is a legal status transition.
// Status only ever moves forward: sending -> sent -> delivered -> read.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return s.IsValid() && next.IsValid() && statusRank[s] < statusRank[next]
}

// Predecessors returns every status that is allowed to advance to s.
func (s MessageStatus) Predecessors() []MessageStatus {
	var prior []MessageStatus
	for candidate, rank := range statusRank {
		if rank < statusRank[s] {
			prior = append(prior, candidate)
		}
	}
	return prior
}

// Message is an opaque point-to-point payload. Content and AuxData are
// stored and forwarded verbatim; the relay never interprets them.
type Message struct {
	ID          MessageID     `db:"ID" json:"messageId"`
	CreatedAt   time.Time     `db:"CreatedAt" json:"timestamp"`
	SenderID    UserID        `db:"SenderID" json:"senderId"`
	RecipientID UserID        `db:"RecipientID" json:"recipientId"`
	Content     string        `db:"Content" json:"content"`
	AuxData     string        `db:"AuxData" json:"auxData,omitempty"`
	Status      MessageStatus `db:"Status" json:"status"`
}

// ConversationKey returns the counterpart id from the given participant's
// point of view. Conversations are derived, never stored.
func (m *Message) ConversationKey(viewer UserID) UserID {
	if m.SenderID == viewer {
		return m.RecipientID
	}
	return m.SenderID
}
