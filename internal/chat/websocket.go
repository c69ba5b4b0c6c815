// Package chat serves the WebSocket endpoint browsers chat through.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/identity"
	"github.com/ashureev/chatrelay/internal/protocol"
	"github.com/ashureev/chatrelay/internal/session"
	"github.com/coder/websocket"
	"github.com/containerd/errdefs"
)

// Reasons sent to clients.
const (
	UsernameRequiredReason = "Username required. Connect with: /ws?username=YourName"
	InvalidJSONMessage     = "Invalid JSON format"
	ServerBusyMessage      = "Server busy, try again"
)

// UserStore is the persistence the handshake needs.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, displayName string) (*domain.User, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// Registry tracks live sessions.
type Registry interface {
	Join(sink session.Sink) domain.SessionHandle
	Leave(h domain.SessionHandle)
}

// Limiter decides whether a user may send another message.
type Limiter interface {
	Check(userID string) (bool, string)
}

// Publisher enqueues events for the pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Config controls session behaviour.
type Config struct {
	ConversationID   string
	HistoryLimit     int
	MaxMessageLength int
	WriteTimeout     time.Duration
	OriginPatterns   []string
	AllowAnyOrigin   bool   // skip origin verification (development)
	ResponderPrefix  string // "" disables responder requests
	ReservedNames    []string
}

// WebSocketHandler handles chat sessions.
type WebSocketHandler struct {
	store    UserStore
	registry Registry
	limiter  Limiter
	pub      Publisher
	cfg      Config
	log      *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(store UserStore, registry Registry, limiter Limiter, pub Publisher, cfg Config, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = domain.DefaultConversationID
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &WebSocketHandler{
		store:    store,
		registry: registry,
		limiter:  limiter,
		pub:      pub,
		cfg:      cfg,
		log:      logger,
	}
}

// wsSink writes frames to one connection with a bounded deadline.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *wsSink) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.Send(ctx, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)
	displayName, nameErr := identity.DisplayNameFromRequest(r, h.cfg.ReservedNames...)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.OriginPatterns,
		InsecureSkipVerify: h.cfg.AllowAnyOrigin,
	})
	if err != nil {
		h.log.Error("Failed to accept WebSocket", "error", err, "ip", ip)
		return
	}

	if nameErr != nil {
		h.log.Info("WebSocket handshake rejected", "error", nameErr, "ip", ip)
		if closeErr := ws.Close(websocket.StatusPolicyViolation, rejectionReason(nameErr)); closeErr != nil {
			h.log.Debug("Failed to close rejected websocket", "error", closeErr)
		}
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.log.Debug("Failed to close websocket", "error", closeErr, "display_name", displayName)
		}
	}()
	if h.cfg.MaxMessageLength > 0 {
		ws.SetReadLimit(readLimit(h.cfg.MaxMessageLength))
	}

	ctx := r.Context()
	sink := &wsSink{conn: ws, timeout: h.cfg.WriteTimeout}
	handle := h.registry.Join(sink)
	defer h.registry.Leave(handle)

	user, err := h.store.GetOrCreateUser(ctx, displayName)
	if err != nil {
		h.log.Error("Failed to load user", "error", err, "display_name", displayName)
		_ = sink.sendJSON(ctx, protocol.NewError("Failed to initialize user"))
		return
	}
	if err := h.store.AddParticipant(ctx, h.cfg.ConversationID, user.UserID); err != nil {
		h.log.Warn("Failed to record participant", "error", err, "user_id", user.UserID)
	}

	h.log.Info("Chat session started", "user_id", user.UserID, "display_name", displayName, "handle", handle, "ip", ip)
	defer h.log.Info("Chat session ended", "user_id", user.UserID, "handle", handle)

	if err := sink.sendJSON(ctx, protocol.NewConnected(user.UserID, user.DisplayName)); err != nil {
		h.log.Debug("Failed to send connected frame", "error", err, "user_id", user.UserID)
		return
	}

	history, err := h.store.History(ctx, h.cfg.ConversationID, h.cfg.HistoryLimit)
	if err != nil {
		h.log.Warn("Failed to load history", "error", err, "user_id", user.UserID)
		history = nil
	}
	if err := sink.sendJSON(ctx, protocol.NewHistory(history)); err != nil {
		h.log.Debug("Failed to send history frame", "error", err, "user_id", user.UserID)
		return
	}

	h.readLoop(ctx, ws, sink, user, handle)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sink *wsSink, user *domain.User, handle domain.SessionHandle) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.log.Debug("WebSocket closed", "user_id", user.UserID, "handle", handle)
			} else {
				h.log.Warn("WebSocket read error", "error", err, "user_id", user.UserID)
			}
			return
		}

		in, err := protocol.DecodeInbound(data, h.cfg.MaxMessageLength)
		if err != nil {
			reply := InvalidJSONMessage
			if errors.Is(err, protocol.ErrFrameTooLong) {
				reply = fmt.Sprintf("Message too long (max %d characters)", h.cfg.MaxMessageLength)
			}
			if err := sink.sendJSON(ctx, protocol.NewError(reply)); err != nil {
				return
			}
			continue
		}
		if in.Text == "" {
			continue
		}

		evt := h.eventFor(user, handle, in.Text)
		if evt == nil {
			continue
		}

		if limited, retry := h.limiter.Check(user.UserID); limited {
			h.log.Debug("Message rate limited", "user_id", user.UserID)
			if err := sink.sendJSON(ctx, protocol.NewError(retry)); err != nil {
				return
			}
			continue
		}
		if err := h.pub.Publish(ctx, evt); err != nil {
			h.log.Warn("Failed to publish event", "error", err, "user_id", user.UserID)
			if errdefs.IsResourceExhausted(err) {
				if err := sink.sendJSON(ctx, protocol.NewError(ServerBusyMessage)); err != nil {
					return
				}
			}
		}
	}
}

// eventFor classifies text. It returns nil for a bare responder prefix.
func (h *WebSocketHandler) eventFor(user *domain.User, handle domain.SessionHandle, text string) domain.Event {
	if rest, ok := stripPrefix(text, h.cfg.ResponderPrefix); ok {
		if rest == "" {
			return nil
		}
		return domain.ResponderRequest{
			UserID:     user.UserID,
			SenderName: user.DisplayName,
			Text:       rest,
			Origin:     handle,
		}
	}
	return domain.UserMessage{
		UserID:     user.UserID,
		SenderName: user.DisplayName,
		Text:       text,
		Origin:     handle,
	}
}

// readLimit bounds an inbound frame holding maxLen characters. A JSON string
// may spell one character as a surrogate pair escape (\uXXXX\uXXXX).
func readLimit(maxLen int) int64 {
	return int64(maxLen)*12 + 1024
}

// stripPrefix matches prefix as a whole word at the start of text.
func stripPrefix(text, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	rest := text[len(prefix):]
	if rest != "" && !unicode.IsSpace([]rune(rest)[0]) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrReservedDisplayName):
		return "Username is reserved. Choose another name."
	case errors.Is(err, identity.ErrDisplayNameTooLong):
		return fmt.Sprintf("Username too long (max %d characters).", identity.MaxDisplayNameLength)
	default:
		return UsernameRequiredReason
	}
}
