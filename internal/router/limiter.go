package router

import (
	"sync"
	"time"
)

// commandBudget is the number of commands one session may issue per window.
const commandBudget = 120

// limitWindow is the sliding-window length.
const limitWindow = time.Minute

// CommandLimiter applies a per-session command budget so one misbehaving
// viewer cannot monopolize the router.
type CommandLimiter struct {
	mu       sync.Mutex
	sessions map[string]*sessionLimit
}

type sessionLimit struct {
	count       int
	windowStart time.Time
}

// NewCommandLimiter creates an empty limiter.
func NewCommandLimiter() *CommandLimiter {
	return &CommandLimiter{
		sessions: make(map[string]*sessionLimit),
	}
}

// Allow reports whether the session may issue another command in the current
// window.
func (l *CommandLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	limit, ok := l.sessions[sessionID]
	if !ok {
		l.sessions[sessionID] = &sessionLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= limitWindow {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= commandBudget {
		return false
	}
	limit.count++
	return true
}

// Remove drops the tracking entry for a torn-down session. Every session
// passes through Teardown, so entries cannot leak.
func (l *CommandLimiter) Remove(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}
