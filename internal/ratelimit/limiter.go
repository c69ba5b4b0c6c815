// Package ratelimit implements the per-user sliding window limiter with cooldown.
package ratelimit

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

// Config controls the limiter thresholds.
type Config struct {
	Messages int           // messages allowed per window
	Window   time.Duration // trailing window length
	Cooldown time.Duration // block length once the window is exceeded
	MaxIdle  time.Duration // idle entries older than this are reclaimed lazily
}

// DefaultConfig returns 3 messages per second with a 2 second cooldown.
func DefaultConfig() Config {
	return Config{
		Messages: 3,
		Window:   time.Second,
		Cooldown: 2 * time.Second,
		MaxIdle:  time.Hour,
	}
}

type userState struct {
	timestamps   []time.Time
	blockedUntil time.Time // zero when open
}

// Stats is a read-only snapshot of one user's limiter state.
type Stats struct {
	UserID           string     `json:"user_id"`
	MessagesInWindow int        `json:"messages_in_window"`
	Limit            int        `json:"limit"`
	Blocked          bool       `json:"is_blocked"`
	BlockedUntil     *time.Time `json:"blocked_until"`
}

// Limiter tracks recent messages per user.
// The key is the user ID, so a user with several tabs shares one budget.
type Limiter struct {
	mu        sync.Mutex
	users     map[string]*userState
	cfg       Config
	now       func() time.Time
	lastSweep time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. Non-positive fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Messages <= 0 {
		cfg.Messages = def.Messages
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = def.MaxIdle
	}
	l := &Limiter{
		users: make(map[string]*userState),
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Check records a message attempt for userID. When limited it returns true
// and a message telling the user when to retry.
func (l *Limiter) Check(userID string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.cfg.MaxIdle {
		l.cleanupLocked(now, l.cfg.MaxIdle)
		l.lastSweep = now
	}

	st, ok := l.users[userID]
	if !ok {
		st = &userState{}
		l.users[userID] = st
	}

	if !st.blockedUntil.IsZero() {
		if now.Before(st.blockedUntil) {
			retry := int(math.Ceil(st.blockedUntil.Sub(now).Seconds())) + 1
			return true, fmt.Sprintf("Rate limited. Try again in %d second(s).", retry)
		}
		st.blockedUntil = time.Time{}
		st.timestamps = st.timestamps[:0]
	}

	st.timestamps = trim(st.timestamps, now.Add(-l.cfg.Window))
	if len(st.timestamps) < l.cfg.Messages {
		st.timestamps = append(st.timestamps, now)
		return false, ""
	}

	st.blockedUntil = now.Add(l.cfg.Cooldown)
	return true, fmt.Sprintf("Too many messages. Try again in %s second(s).", formatSeconds(l.cfg.Cooldown))
}

// Stats reports userID's current state without mutating it.
func (l *Limiter) Stats(userID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Stats{UserID: userID, Limit: l.cfg.Messages}
	st, ok := l.users[userID]
	if !ok {
		return out
	}

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			out.MessagesInWindow++
		}
	}
	if !st.blockedUntil.IsZero() {
		until := st.blockedUntil
		out.BlockedUntil = &until
		out.Blocked = now.Before(until)
	}
	return out
}

// Reset clears all state for userID.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
}

// Cleanup drops users whose latest message is older than maxIdle and
// returns how many were removed.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanupLocked(l.now(), maxIdle)
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

func (l *Limiter) cleanupLocked(now time.Time, maxIdle time.Duration) int {
	removed := 0
	for id, st := range l.users {
		var last time.Time // epoch when no messages were recorded
		if n := len(st.timestamps); n > 0 {
			last = st.timestamps[n-1]
		} else {
			last = time.Unix(0, 0)
		}
		if now.Sub(last) > maxIdle {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

// trim drops timestamps at or before cutoff. Timestamps are appended in order.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
