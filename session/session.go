// Package session owns the bounded pool of per-user browser sessions: one
// page per user, idle expiry, LRU eviction at capacity, and sequential
// action ordering inside each session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/types"
)

// Session is one user's live browsing context. Actions within a session run
// strictly sequentially under mu; the element cache and generation counter
// belong to the most recent page scan.
type Session struct {
	ID     string
	UserID string
	Page   browser.Page

	mu         sync.Mutex
	elements   map[int]types.ElementRef
	generation uint64
	createdAt  time.Time
	lastActive time.Time
	paused     bool
	closed     bool

	// ctx is cancelled when the session closes, aborting in-flight work.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(userID string, page browser.Page, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Page:       page,
		elements:   make(map[int]types.ElementRef),
		createdAt:  now,
		lastActive: now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is cancelled when the session closes. Workflows derive their
// per-run context from it so eviction aborts in-flight steps.
func (s *Session) Context() context.Context { return s.ctx }

// Lock serializes actions within the session. Callers hold it for the
// duration of one step, never across user-visible waits on other sessions.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch moves the activity clock forward.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns the activity clock.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Pause exempts the session from idle eviction until Resume.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables idle eviction and touches the activity clock.
func (s *Session) Resume(now time.Time) {
	s.mu.Lock()
	s.paused = false
	s.lastActive = now
	s.mu.Unlock()
}

// Paused reports whether the session is exempt from idle eviction.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Closed reports whether the session has been released.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Generation returns the current element-cache generation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Element returns the cached ref at a 1-based index.
func (s *Session) Element(index int) (types.ElementRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.elements[index]
	return ref, ok
}

// Elements returns a snapshot of the cache ordered by index at call time.
func (s *Session) Elements() map[int]types.ElementRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]types.ElementRef, len(s.elements))
	for k, v := range s.elements {
		out[k] = v
	}
	return out
}

// ReplaceElements installs a fresh scan result and bumps the generation, so
// refs from earlier scans can no longer resolve directly.
func (s *Session) ReplaceElements(refs []types.ElementRef) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.elements = make(map[int]types.ElementRef, len(refs))
	for _, ref := range refs {
		ref.Generation = s.generation
		s.elements[ref.Index] = ref
	}
	return s.generation
}

// close cancels in-flight work and releases the page. Idempotent.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.Page != nil {
		return s.Page.Close()
	}
	return nil
}
