// Package responder implements the scripted keyword responder.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// DefaultIntent is reported when no keyword matches.
const DefaultIntent = "default"

// DefaultDelay is the simulated thinking time.
const DefaultDelay = 500 * time.Millisecond

// Intent is a named keyword set with a canned reply.
type Intent struct {
	Name     string
	Keywords []string
	Reply    string
}

// DefaultIntents returns the built-in intents in priority order.
func DefaultIntents() []Intent {
	return []Intent{
		{
			Name:     "python",
			Keywords: []string{"python", "django", "flask", "fastapi"},
			Reply: "Python is a versatile, high-level programming language known for its simplicity and readability. " +
				"It is widely used in web development, data science, machine learning and automation.",
		},
		{
			Name:     "concurrency",
			Keywords: []string{"goroutine", "channel", "mutex", "concurren", "async", "await", "parallel"},
			Reply: "Concurrency lets independent work make progress without blocking. " +
				"This relay runs one goroutine per connection and a single consumer for ordered event processing.",
		},
		{
			Name:     "websocket",
			Keywords: []string{"websocket", "ws://", "real-time", "realtime", "bidirectional", "connection"},
			Reply: "WebSockets keep a persistent, bidirectional connection between client and server. " +
				"Unlike plain HTTP requests, the server can push messages the moment they arrive.",
		},
		{
			Name:     "event",
			Keywords: []string{"event", "queue", "publisher", "consumer", "pipeline"},
			Reply: "Event-driven designs publish events onto a queue and let a consumer react to them. " +
				"Here every chat message becomes an event that is persisted and fanned out in order.",
		},
		{
			Name:     "database",
			Keywords: []string{"database", "sqlite", "sql", "persistence", "history"},
			Reply: "SQLite is a lightweight, file-based database. " +
				"It stores users, conversations and every message so new sessions receive recent history.",
		},
	}
}

// Responder classifies text by keyword and returns the matching canned reply.
type Responder struct {
	intents []Intent
	owner   map[string]int // keyword -> index into intents
	matcher *goahocorasick.Machine
	delay   time.Duration
}

// Option customizes a Responder.
type Option func(*Responder)

// WithDelay sets the simulated thinking time. Non-positive values are ignored.
func WithDelay(d time.Duration) Option {
	return func(r *Responder) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithIntents replaces the built-in intents. Earlier intents win ties.
func WithIntents(intents []Intent) Option {
	return func(r *Responder) { r.intents = intents }
}

// New builds the keyword automaton.
func New(opts ...Option) (*Responder, error) {
	r := &Responder{
		intents: DefaultIntents(),
		delay:   DefaultDelay,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.owner = make(map[string]int)
	var patterns [][]rune
	for i, in := range r.intents {
		for _, kw := range lo.Uniq(in.Keywords) {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, taken := r.owner[kw]; taken {
				continue
			}
			r.owner[kw] = i
			patterns = append(patterns, []rune(kw))
		}
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("build responder: no keywords")
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build keyword automaton: %w", err)
	}
	r.matcher = m
	return r, nil
}

// Respond returns the detected intent and reply for text after the configured
// delay. It returns ctx.Err() if ctx ends first.
func (r *Responder) Respond(ctx context.Context, text string) (string, string, error) {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case <-timer.C:
	}

	intent := r.Classify(text)
	if intent == DefaultIntent {
		return intent, fmt.Sprintf(
			"I'm a scripted assistant. You asked about: '%s'. "+
				"I can help with questions about Python, concurrency, WebSockets, event-driven design and databases.",
			text), nil
	}
	reply, _ := lo.Find(r.intents, func(in Intent) bool { return in.Name == intent })
	return intent, reply.Reply, nil
}

// Classify returns the earliest-declared intent with a keyword in text.
func (r *Responder) Classify(text string) string {
	content := []rune(strings.Map(unicode.ToLower, text))
	if len(content) == 0 {
		return DefaultIntent
	}

	best := -1
	for _, term := range r.matcher.MultiPatternSearch(content, false) {
		idx, ok := r.owner[string(term.Word)]
		if !ok {
			continue
		}
		if best == -1 || idx < best {
			best = idx
		}
	}
	if best == -1 {
		return DefaultIntent
	}
	return r.intents[best].Name
}
