package domain

import (
	"time"
)

// DefaultConversationID is the single room every session joins.
const DefaultConversationID = "default"

// MessageKind distinguishes typed messages from responder output.
type MessageKind string

const (
	// MessageKindUser is text typed by a connected participant.
	MessageKindUser MessageKind = "user"
	// MessageKindResponderReply is text produced by the scripted responder.
	MessageKindResponderReply MessageKind = "responder_reply"
)

// Conversation is a chat room. Only the default room exists.
type Conversation struct {
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is an immutable history record. ID and CreatedAt are assigned by the store.
// SenderName is copied at write time so history survives renames.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	Kind           MessageKind
	CreatedAt      time.Time
}
