// Package protocol defines the JSON frames exchanged with browser clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Outbound frame types.
const (
	TypeConnected = "connected"
	TypeHistory   = "history"
	TypeMessage   = "message"
	TypeError     = "error"
)

var (
	// ErrMalformedFrame is returned when an inbound frame is not valid JSON.
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", errdefs.ErrInvalidArgument)
	// ErrFrameTooLong is returned when the text field exceeds the configured limit.
	ErrFrameTooLong = fmt.Errorf("%w: message too long", errdefs.ErrInvalidArgument)
)

var validate = validator.New()

// Inbound is a frame sent by a client. Type is accepted for compatibility and ignored.
type Inbound struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// Connected acknowledges a successful handshake.
type Connected struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// HistoryEntry is one stored message as replayed to a client.
type HistoryEntry struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
}

// History carries the conversation backlog sent right after Connected.
type History struct {
	Type     string         `json:"type"`
	Messages []HistoryEntry `json:"messages"`
	Count    int            `json:"count"`
}

// Message relays one chat line.
type Message struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Error reports a recoverable problem to a single client.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeInbound parses a client frame and trims its text.
// maxLen <= 0 disables the length check.
func DecodeInbound(data []byte, maxLen int) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	in.Text = strings.TrimSpace(in.Text)
	if maxLen > 0 {
		if err := validate.Var(in.Text, fmt.Sprintf("max=%d", maxLen)); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return Inbound{}, ErrFrameTooLong
			}
			return Inbound{}, fmt.Errorf("validate frame: %w", err)
		}
	}
	return in, nil
}

// NewConnected builds the handshake acknowledgement.
func NewConnected(userID, displayName string) Connected {
	return Connected{Type: TypeConnected, UserID: userID, DisplayName: displayName}
}

// NewHistory builds the backlog frame, oldest message first.
func NewHistory(messages []domain.Message) History {
	entries := lo.Map(messages, func(m domain.Message, _ int) HistoryEntry {
		return HistoryEntry{
			Sender:    m.SenderName,
			Text:      m.Text,
			Kind:      string(m.Kind),
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		}
	})
	return History{Type: TypeHistory, Messages: entries, Count: len(entries)}
}

// NewMessage builds a relayed chat line.
func NewMessage(sender, text string) Message {
	return Message{Type: TypeMessage, Sender: sender, Text: text}
}

// NewError builds an error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
