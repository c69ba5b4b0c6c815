//go:generate go run go.uber.org/mock/mockgen -source=pipeline.go -destination=mocks/mock_pipeline.go -package=mocks

// Package pipeline runs the single ordered consumer behind every chat session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/protocol"
)

// Store persists chat history.
type Store interface {
	SaveMessage(ctx context.Context, msg *domain.Message) error
}

// Broadcaster fans payloads out to live sessions.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload any) int
	BroadcastExcept(ctx context.Context, payload any, excluded domain.SessionHandle) int
}

// Responder answers text addressed to the bot.
type Responder interface {
	Respond(ctx context.Context, text string) (intent string, reply string, err error)
}

// Config identifies the room and the bot identity replies are stored under.
type Config struct {
	ConversationID string
	BotUserID      string
	BotName        string
	MaxPending     int
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithResponder enables ResponderRequest handling.
func WithResponder(r Responder) Option {
	return func(p *Pipeline) { p.responder = r }
}

// Pipeline owns the event queue and its single consumer.
type Pipeline struct {
	queue     *Queue
	store     Store
	out       Broadcaster
	responder Responder
	cfg       Config
	log       *slog.Logger
}

// New creates a pipeline. Call Run exactly once to start consuming.
func New(store Store, out Broadcaster, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = domain.DefaultConversationID
	}
	p := &Pipeline{
		queue: NewQueue(cfg.MaxPending),
		store: store,
		out:   out,
		cfg:   cfg,
		log:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResponderEnabled reports whether ResponderRequest events reach a responder.
func (p *Pipeline) ResponderEnabled() bool {
	return p.responder != nil
}

// Publish enqueues evt without blocking.
func (p *Pipeline) Publish(_ context.Context, evt domain.Event) error {
	if evt == nil {
		return errors.New("publish event: nil event")
	}
	if err := p.queue.Push(evt); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Len returns the number of events waiting to be processed.
func (p *Pipeline) Len() int {
	return p.queue.Len()
}

// Run consumes events in order until ctx is cancelled. Pending events are dropped.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("Event pipeline started")
	for {
		evt, err := p.queue.Pop(ctx)
		if err != nil {
			p.log.Info("Event pipeline shutting down", "pending", p.queue.Len())
			return nil
		}
		if err := evt.Dispatch(ctx, p); err != nil {
			if ctx.Err() != nil {
				p.log.Info("Event pipeline shutting down", "pending", p.queue.Len())
				return nil
			}
			p.log.Error("Failed to process event", "event", fmt.Sprintf("%T", evt), "error", err)
		}
	}
}

// HandleUserMessage persists a plain message and relays it to everyone but its sender.
func (p *Pipeline) HandleUserMessage(ctx context.Context, evt domain.UserMessage) error {
	p.persist(ctx, &domain.Message{
		ConversationID: p.cfg.ConversationID,
		SenderID:       evt.UserID,
		SenderName:     evt.SenderName,
		Text:           evt.Text,
		Kind:           domain.MessageKindUser,
	})
	p.out.BroadcastExcept(ctx, protocol.NewMessage(evt.SenderName, evt.Text), evt.Origin)
	return nil
}

// HandleResponderRequest relays the question like a plain message, then queues the responder's answer.
func (p *Pipeline) HandleResponderRequest(ctx context.Context, evt domain.ResponderRequest) error {
	if err := p.HandleUserMessage(ctx, domain.UserMessage(evt)); err != nil {
		return err
	}
	if p.responder == nil {
		return nil
	}

	intent, reply, err := p.respond(ctx, evt.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("Responder failed", "user_id", evt.UserID, "error", err)
		intent = "error"
		reply = fmt.Sprintf("Error processing request: %v", err)
	}
	p.log.Debug("Responder replied", "user_id", evt.UserID, "intent", intent)

	p.queue.pushInternal(domain.ResponderReply{
		Text:           reply,
		OriginalText:   evt.Text,
		DetectedIntent: intent,
	})
	return nil
}

// HandleResponderReply persists the bot's answer and relays it to every session.
func (p *Pipeline) HandleResponderReply(ctx context.Context, evt domain.ResponderReply) error {
	p.persist(ctx, &domain.Message{
		ConversationID: p.cfg.ConversationID,
		SenderID:       p.cfg.BotUserID,
		SenderName:     p.cfg.BotName,
		Text:           evt.Text,
		Kind:           domain.MessageKindResponderReply,
	})
	p.out.Broadcast(ctx, protocol.NewMessage(p.cfg.BotName, evt.Text))
	return nil
}

func (p *Pipeline) persist(ctx context.Context, msg *domain.Message) {
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.log.Error("Failed to persist message",
			"user_id", msg.SenderID,
			"kind", msg.Kind,
			"error", err,
		)
	}
}

func (p *Pipeline) respond(ctx context.Context, text string) (intent, reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return p.responder.Respond(ctx, text)
}

var _ domain.EventHandler = (*Pipeline)(nil)
