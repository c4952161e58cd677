package signing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store owns the authoritative mutable state of every signing session.
// Implementations must provide single-writer-per-session semantics: Mutate
// runs its callback under mutual exclusion scoped to the session id and
// persists the result atomically, so completion detection is atomic with the
// per-signer transition. Reads return consistent snapshots.
type Store interface {
	Insert(ctx context.Context, session SigningSession) error
	Get(ctx context.Context, id string) (SigningSession, error)
	Mutate(ctx context.Context, id string, fn func(*SigningSession) error) (SigningSession, error)
	// ListOpenBefore returns ids of non-terminal sessions whose deadline
	// precedes t. Used by the expiration sweep.
	ListOpenBefore(ctx context.Context, t time.Time) ([]string, error)
}

type memoryEntry struct {
	mu      sync.Mutex
	session SigningSession
}

// MemoryStore keeps sessions in process memory with a per-session lock.
// Lifecycle is owned by the host application; there is no implicit global.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Insert(ctx context.Context, session SigningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("signing: duplicate session id %s", session.ID)
	}
	s.sessions[session.ID] = &memoryEntry{session: session.Clone()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (SigningSession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return SigningSession{}, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

// Mutate applies fn to a working copy under the session lock and swaps it in
// only when fn succeeds, so a failed mutation leaves state untouched.
func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(*SigningSession) error) (SigningSession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return SigningSession{}, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.session.Clone()
	if err := fn(&working); err != nil {
		return SigningSession{}, err
	}
	entry.session = working
	return working.Clone(), nil
}

func (s *MemoryStore) ListOpenBefore(ctx context.Context, t time.Time) ([]string, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var ids []string
	for _, e := range entries {
		e.mu.Lock()
		if !e.session.Status.Terminal() && e.session.ExpiresAt.Before(t) {
			ids = append(ids, e.session.ID)
		}
		e.mu.Unlock()
	}
	return ids, nil
}
