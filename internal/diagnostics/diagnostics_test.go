package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fixed int

func (f fixed) Count() int { return int(f) }
func (f fixed) Len() int   { return int(f) }

type fakeConversations struct {
	conv *domain.Conversation
	err  error
}

func (f fakeConversations) GetConversation(context.Context, string) (*domain.Conversation, error) {
	return f.conv, f.err
}

func TestCollector_Collect(t *testing.T) {
	req := require.New(t)
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Collector{
		Sessions:         fixed(3),
		Queue:            fixed(2),
		Limiter:          fixed(5),
		Conversations:    fakeConversations{conv: &domain.Conversation{ConversationID: "default", UpdatedAt: updated}},
		ResponderEnabled: true,
	}

	snap := c.Collect(context.Background())
	req.Equal(3, snap.Sessions)
	req.Equal(2, snap.PendingEvents)
	req.Equal(5, snap.RateLimitedUsers)
	req.True(snap.ResponderEnabled)
	req.Equal(domain.DefaultConversationID, snap.ConversationID)
	req.NotNil(snap.ConversationUpdatedAt)
	req.Equal(updated, *snap.ConversationUpdatedAt)
}

func TestCollector_NilSourcesAndLookupFailure(t *testing.T) {
	req := require.New(t)
	c := &Collector{Conversations: fakeConversations{err: errors.New("db down")}}

	snap := c.Collect(context.Background())
	req.Zero(snap.Sessions)
	req.Zero(snap.PendingEvents)
	req.Nil(snap.ConversationUpdatedAt)
}

func TestReporter_InvalidSchedule(t *testing.T) {
	_, err := NewReporter(&Collector{}, "not a schedule", nil)
	require.Error(t, err)
}

func TestReporter_ReportLogsSnapshot(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r, err := NewReporter(&Collector{Sessions: fixed(4)}, "@every 1h", logger)
	req.NoError(err)
	r.Start()
	r.Report()
	r.Stop()

	req.Contains(buf.String(), `"msg":"Relay diagnostics"`)
	req.Contains(buf.String(), `"sessions":4`)
}
