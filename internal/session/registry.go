// Package session tracks live client sessions and fans payloads out to them.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/samber/lo"
)

// Sink is the output side of one client connection.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

type entry struct {
	handle domain.SessionHandle
	sink   Sink
}

// Registry holds live sinks in registration order.
// Join and Leave are called directly from session goroutines, so the entry
// list has its own lock; sends always happen on a snapshot outside it.
type Registry struct {
	mu      sync.Mutex
	next    domain.SessionHandle
	entries []entry
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{log: logger}
}

// Join registers sink as a broadcast target and returns its handle.
func (r *Registry) Join(sink Sink) domain.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.entries = append(r.entries, entry{handle: h, sink: sink})
	r.log.Debug("Session joined", "handle", h, "sessions", len(r.entries))
	return h
}

// Leave removes the session. Unknown handles are ignored.
func (r *Registry) Leave(h domain.SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remove(h) {
		r.log.Debug("Session left", "handle", h, "sessions", len(r.entries))
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Broadcast sends payload to every session and returns how many accepted it.
func (r *Registry) Broadcast(ctx context.Context, payload any) int {
	return r.fanout(ctx, payload, 0)
}

// BroadcastExcept sends payload to every session but excluded.
func (r *Registry) BroadcastExcept(ctx context.Context, payload any, excluded domain.SessionHandle) int {
	return r.fanout(ctx, payload, excluded)
}

func (r *Registry) fanout(ctx context.Context, payload any, excluded domain.SessionHandle) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("Failed to marshal broadcast payload", "error", err)
		return 0
	}

	r.mu.Lock()
	targets := lo.Filter(r.entries, func(e entry, _ int) bool {
		return excluded == 0 || e.handle != excluded
	})
	r.mu.Unlock()

	delivered := 0
	var failed []domain.SessionHandle
	for _, e := range targets {
		if err := e.sink.Send(ctx, data); err != nil {
			r.log.Debug("Evicting session after send failure", "handle", e.handle, "error", err)
			failed = append(failed, e.handle)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, h := range failed {
			r.remove(h)
		}
		r.mu.Unlock()
	}
	return delivered
}

// remove deletes h and reports whether it was present. Caller holds r.mu.
func (r *Registry) remove(h domain.SessionHandle) bool {
	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}
