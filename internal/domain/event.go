package domain

import "context"

// SessionHandle identifies one live session in the registry.
// The zero value never refers to a registered session.
type SessionHandle uint64

// Event is a unit of pipeline work. The set of variants is closed: the
// unexported marker keeps other packages from adding variants, and Dispatch
// forces every EventHandler to implement one method per variant.
type Event interface {
	Dispatch(ctx context.Context, h EventHandler) error
	isEvent()
}

// EventHandler consumes each event variant.
type EventHandler interface {
	HandleUserMessage(ctx context.Context, evt UserMessage) error
	HandleResponderRequest(ctx context.Context, evt ResponderRequest) error
	HandleResponderReply(ctx context.Context, evt ResponderReply) error
}

// UserMessage is plain text typed by a participant.
type UserMessage struct {
	UserID     string
	SenderName string
	Text       string
	Origin     SessionHandle
}

// Dispatch routes the event to h.
func (e UserMessage) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleUserMessage(ctx, e)
}

func (UserMessage) isEvent() {}

// ResponderRequest is participant text addressed to the responder.
// Text has the command prefix already stripped.
type ResponderRequest struct {
	UserID     string
	SenderName string
	Text       string
	Origin     SessionHandle
}

// Dispatch routes the event to h.
func (e ResponderRequest) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleResponderRequest(ctx, e)
}

func (ResponderRequest) isEvent() {}

// ResponderReply is the responder's answer to a ResponderRequest.
type ResponderReply struct {
	Text           string
	OriginalText   string
	DetectedIntent string
}

// Dispatch routes the event to h.
func (e ResponderReply) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleResponderReply(ctx, e)
}

func (ResponderReply) isEvent() {}
