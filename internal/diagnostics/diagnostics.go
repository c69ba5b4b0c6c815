// Package diagnostics collects read-only runtime counters and reports them on a schedule.
package diagnostics

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

// Counter reports a size.
type Counter interface {
	Count() int
}

// Lengther reports a size.
type Lengther interface {
	Len() int
}

// ConversationReader loads room metadata.
type ConversationReader interface {
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
}

// Snapshot is a point-in-time view of the relay.
type Snapshot struct {
	Sessions              int        `json:"sessions"`
	PendingEvents         int        `json:"pending_events"`
	RateLimitedUsers      int        `json:"tracked_rate_limit_users"`
	ResponderEnabled      bool       `json:"responder_enabled"`
	ConversationID        string     `json:"conversation_id"`
	ConversationUpdatedAt *time.Time `json:"conversation_updated_at,omitempty"`
	CollectedAt           time.Time  `json:"collected_at"`
}

// Collector builds snapshots. Nil sources report zero.
type Collector struct {
	Sessions         Counter
	Queue            Lengther
	Limiter          Lengther
	Conversations    ConversationReader
	ConversationID   string
	ResponderEnabled bool
}

// Collect gathers a snapshot without mutating any source.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		ConversationID:   c.ConversationID,
		ResponderEnabled: c.ResponderEnabled,
		CollectedAt:      time.Now().UTC(),
	}
	if snap.ConversationID == "" {
		snap.ConversationID = domain.DefaultConversationID
	}
	if c.Sessions != nil {
		snap.Sessions = c.Sessions.Count()
	}
	if c.Queue != nil {
		snap.PendingEvents = c.Queue.Len()
	}
	if c.Limiter != nil {
		snap.RateLimitedUsers = c.Limiter.Len()
	}
	if c.Conversations != nil {
		conv, err := c.Conversations.GetConversation(ctx, snap.ConversationID)
		if err != nil {
			slog.Debug("Failed to load conversation for diagnostics", "error", err)
		} else {
			updated := conv.UpdatedAt.UTC()
			snap.ConversationUpdatedAt = &updated
		}
	}
	return snap
}
