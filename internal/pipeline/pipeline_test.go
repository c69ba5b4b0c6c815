package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/pipeline/mocks"
	"github.com/ashureev/chatrelay/internal/protocol"
	"github.com/ashureev/chatrelay/internal/responder"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testConfig = Config{
	ConversationID: domain.DefaultConversationID,
	BotUserID:      "bot-id",
	BotName:        "Bot",
}

// startPipeline runs p until the test ends.
func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("pipeline did not stop")
		}
	})
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline")
	}
}

// savedMessages records SaveMessage calls made by the consumer goroutine.
type savedMessages struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (s *savedMessages) save(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *savedMessages) all() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.msgs...)
}

func TestPipeline_UserMessageRelaysToOthers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	out := mocks.NewMockBroadcaster(ctrl)
	saved := &savedMessages{}
	done := make(chan struct{})

	store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).DoAndReturn(saved.save).Times(1)
	out.EXPECT().
		BroadcastExcept(gomock.Any(), protocol.NewMessage("alice", "hello"), domain.SessionHandle(7)).
		Do(func(context.Context, any, domain.SessionHandle) { close(done) }).
		Return(1)

	p := New(store, out, testConfig, nil)
	startPipeline(t, p)

	req.NoError(p.Publish(context.Background(), domain.UserMessage{
		UserID: "u1", SenderName: "alice", Text: "hello", Origin: 7,
	}))
	waitFor(t, done)

	msgs := saved.all()
	req.Len(msgs, 1)
	req.Equal("u1", msgs[0].SenderID)
	req.Equal("alice", msgs[0].SenderName)
	req.Equal(domain.MessageKindUser, msgs[0].Kind)
	req.Equal(domain.DefaultConversationID, msgs[0].ConversationID)
}

func TestPipeline_ResponderRoundTrip(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	out := mocks.NewMockBroadcaster(ctrl)
	saved := &savedMessages{}
	done := make(chan struct{})

	r, err := responder.New(responder.WithDelay(time.Millisecond))
	req.NoError(err)

	var reply protocol.Message
	store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).DoAndReturn(saved.save).Times(2)
	gomock.InOrder(
		out.EXPECT().
			BroadcastExcept(gomock.Any(), protocol.NewMessage("alice", "What is Python?"), domain.SessionHandle(1)).
			Return(1),
		out.EXPECT().
			Broadcast(gomock.Any(), gomock.Any()).
			Do(func(_ context.Context, payload any) {
				reply = payload.(protocol.Message)
				close(done)
			}).
			Return(2),
	)

	p := New(store, out, testConfig, nil, WithResponder(r))
	req.True(p.ResponderEnabled())
	startPipeline(t, p)

	req.NoError(p.Publish(context.Background(), domain.ResponderRequest{
		UserID: "u1", SenderName: "alice", Text: "What is Python?", Origin: 1,
	}))
	waitFor(t, done)

	req.Equal("Bot", reply.Sender)
	req.Contains(reply.Text, "Python")

	msgs := saved.all()
	req.Len(msgs, 2)
	req.Equal(domain.MessageKindUser, msgs[0].Kind)
	req.Equal("What is Python?", msgs[0].Text)
	req.Equal(domain.MessageKindResponderReply, msgs[1].Kind)
	req.Equal("bot-id", msgs[1].SenderID)
	req.Equal("Bot", msgs[1].SenderName)
}

func TestPipeline_PersistFailureStillBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	out := mocks.NewMockBroadcaster(ctrl)
	done := make(chan struct{})

	store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	out.EXPECT().
		BroadcastExcept(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(context.Context, any, domain.SessionHandle) { close(done) }).
		Return(0)

	p := New(store, out, testConfig, nil)
	startPipeline(t, p)

	require.NoError(t, p.Publish(context.Background(), domain.UserMessage{UserID: "u1", SenderName: "alice", Text: "hi"}))
	waitFor(t, done)
}

func TestPipeline_ResponderFailuresBecomeReplies(t *testing.T) {
	tests := []struct {
		name    string
		respond func(context.Context, string) (string, string, error)
		want    string
	}{
		{
			name: "error",
			respond: func(context.Context, string) (string, string, error) {
				return "", "", errors.New("model offline")
			},
			want: "Error processing request: model offline",
		},
		{
			name: "panic",
			respond: func(context.Context, string) (string, string, error) {
				panic("boom")
			},
			want: "Error processing request: responder panic: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			store := mocks.NewMockStore(ctrl)
			out := mocks.NewMockBroadcaster(ctrl)
			resp := mocks.NewMockResponder(ctrl)
			done := make(chan struct{})

			var reply protocol.Message
			store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(nil).Times(2)
			out.EXPECT().BroadcastExcept(gomock.Any(), gomock.Any(), gomock.Any()).Return(1)
			resp.EXPECT().Respond(gomock.Any(), "help").DoAndReturn(tt.respond)
			out.EXPECT().Broadcast(gomock.Any(), gomock.Any()).
				Do(func(_ context.Context, payload any) {
					reply = payload.(protocol.Message)
					close(done)
				}).
				Return(1)

			p := New(store, out, testConfig, nil, WithResponder(resp))
			startPipeline(t, p)

			req.NoError(p.Publish(context.Background(), domain.ResponderRequest{UserID: "u1", SenderName: "alice", Text: "help"}))
			waitFor(t, done)
			req.Equal(tt.want, reply.Text)
		})
	}
}

func TestPipeline_RequestWithoutResponderIsPlainMessage(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	out := mocks.NewMockBroadcaster(ctrl)
	done := make(chan struct{})

	store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		out.EXPECT().BroadcastExcept(gomock.Any(), protocol.NewMessage("alice", "question"), gomock.Any()).Return(1),
		out.EXPECT().BroadcastExcept(gomock.Any(), protocol.NewMessage("alice", "marker"), gomock.Any()).
			Do(func(context.Context, any, domain.SessionHandle) { close(done) }).
			Return(1),
	)

	p := New(store, out, testConfig, nil)
	req.False(p.ResponderEnabled())
	startPipeline(t, p)

	req.NoError(p.Publish(context.Background(), domain.ResponderRequest{SenderName: "alice", Text: "question"}))
	req.NoError(p.Publish(context.Background(), domain.UserMessage{SenderName: "alice", Text: "marker"}))
	waitFor(t, done)
}

func TestPipeline_PreservesOrder(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	out := mocks.NewMockBroadcaster(ctrl)
	done := make(chan struct{})

	var mu sync.Mutex
	var order []string
	store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	out.EXPECT().BroadcastExcept(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, payload any, _ domain.SessionHandle) int {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, payload.(protocol.Message).Text)
			if len(order) == 5 {
				close(done)
			}
			return 1
		}).
		Times(5)

	p := New(store, out, testConfig, nil)
	want := []string{"1", "2", "3", "4", "5"}
	for _, text := range want {
		req.NoError(p.Publish(context.Background(), domain.UserMessage{Text: text}))
	}
	req.Equal(5, p.Len())

	startPipeline(t, p)
	waitFor(t, done)

	mu.Lock()
	defer mu.Unlock()
	req.Equal(want, order)
}

func TestPipeline_PublishWhenFull(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	cfg := testConfig
	cfg.MaxPending = 1
	p := New(mocks.NewMockStore(ctrl), mocks.NewMockBroadcaster(ctrl), cfg, nil)

	req.NoError(p.Publish(context.Background(), domain.UserMessage{Text: "a"}))
	err := p.Publish(context.Background(), domain.UserMessage{Text: "b"})
	req.ErrorIs(err, ErrQueueFull)

	req.Error(p.Publish(context.Background(), nil))
}

func TestPipeline_RunReturnsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := New(mocks.NewMockStore(ctrl), mocks.NewMockBroadcaster(ctrl), testConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
}
