// Package audit records the immutable event trail of signing sessions.
// Events are append-only; no mutation or deletion operation exists.
package audit

import (
	"context"
	"sync"
	"time"
)

// EventType enumerates the lifecycle events recorded per session/signer.
type EventType string

const (
	EventSent     EventType = "sent"
	EventOpened   EventType = "opened"
	EventSigned   EventType = "signed"
	EventDeclined EventType = "declined"
	EventExpired  EventType = "expired"
)

// Event is one immutable audit record. SignerEmail is empty for
// session-level events such as expiration.
type Event struct {
	ID          int64
	SessionID   string
	SignerEmail string
	Type        EventType
	At          time.Time
	IP          string
	UserAgent   string
}

// Log is the append-only event store. BySession returns events in insertion
// order, which is also chronological since events are appended synchronously
// with the transition that produces them.
type Log interface {
	Append(ctx context.Context, event Event) error
	BySession(ctx context.Context, sessionID string) ([]Event, error)
}

// MemoryLog keeps events in process memory, grouped by session.
type MemoryLog struct {
	mu     sync.Mutex
	nextID int64
	events map[string][]Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[string][]Event)}
}

func (l *MemoryLog) Append(ctx context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	event.ID = l.nextID
	l.events[event.SessionID] = append(l.events[event.SessionID], event)
	return nil
}

func (l *MemoryLog) BySession(ctx context.Context, sessionID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events[sessionID]))
	copy(out, l.events[sessionID])
	return out, nil
}
