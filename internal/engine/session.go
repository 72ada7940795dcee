package engine

import (
	"context"
	"sync"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/segmentio/ksuid"
)

// Session is one transfer attempt for one pack. Its token decides whether
// anything it produces may still reach the PackState.
type Session struct {
	ID        string
	PackID    string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	store  *StateStore

	// fencedAs is only read and written on the store actor. Empty means the
	// session is not fenced.
	fencedAs domain.SessionOutcome

	// result is written once, before done is closed
	result domain.PackState
	err    error
}

// Done is closed after the session released its slot.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// commit is the only way a transfer mutates PackState. It is a no-op once the
// token is no longer the pack's current session.
func (s *Session) commit(fn func(*domain.PackState)) bool {
	_, ok := s.store.UpdateIf(s.PackID, func(st *storeState) bool {
		return st.sessions[s.PackID] == s && s.fencedAs == ""
	}, fn)
	return ok
}

// SessionManager keeps at most one live session per pack id. The slot table
// lives on the state store actor so claiming a slot and flipping the pack to
// downloading happen in one step.
type SessionManager struct {
	store *StateStore
	clock domain.Clock
}

func NewSessionManager(store *StateStore, clock domain.Clock) *SessionManager {
	return &SessionManager{store: store, clock: clock}
}

// Begin mints a token for id and records it as the live session, then applies
// fn to the pack state. It returns the state as it was before fn ran. The
// session context derives from parent, not from the caller's request.
func (m *SessionManager) Begin(parent context.Context, id string, fn func(*domain.PackState)) (*Session, domain.PackState, error) {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        ksuid.New().String(),
		PackID:    id,
		StartedAt: m.clock.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		store:     m.store,
	}

	var prior domain.PackState
	busy := false

	ok := m.store.do(func(st *storeState) {
		p := st.get(id)
		prior = p.Clone()

		if st.sessions[id] != nil {
			busy = true
			return
		}
		st.sessions[id] = s

		fn(p)
		p.Normalize()
		st.publish(p.Clone())
	})

	if !ok {
		cancel()
		return nil, prior, domain.NewPackError(id, domain.ErrUnknown, context.Canceled)
	}
	if busy {
		cancel()
		return nil, prior, domain.NewPackError(id, domain.ErrAlreadyInProgress, nil)
	}

	return s, prior, nil
}

// Active returns the live session of id, if any.
func (m *SessionManager) Active(id string) *Session {
	var s *Session
	m.store.do(func(st *storeState) {
		s = st.sessions[id]
	})
	return s
}

// Fence supersedes s on behalf of an intent, which becomes the journaled
// outcome of s. Once Fence returns, no commit of s can apply.
func (m *SessionManager) Fence(s *Session, as domain.SessionOutcome) {
	m.store.do(func(st *storeState) {
		if s.fencedAs == "" {
			s.fencedAs = as
		}
	})
}

// Superseded reports the outcome s was fenced with. ok is false while s is
// still the pack's current session.
func (m *SessionManager) Superseded(s *Session) (domain.SessionOutcome, bool) {
	as := domain.SessionOutcome("")
	ok := false
	m.store.do(func(st *storeState) {
		switch {
		case s.fencedAs != "":
			as, ok = s.fencedAs, true
		case st.sessions[s.PackID] != s:
			as, ok = domain.OutcomeFenced, true
		}
	})
	return as, ok
}

// End releases the slot. Only the session goroutine calls it, after it is
// done with the temp file.
func (m *SessionManager) End(s *Session) {
	m.store.do(func(st *storeState) {
		if st.sessions[s.PackID] == s {
			delete(st.sessions, s.PackID)
		}
	})
}

// Drain fences and cancels the live session of id and waits for it to exit.
// It returns the drained session, or nil when none was live. The wait has no
// deadline: a fenced session cannot settle its own state, the caller must.
func (m *SessionManager) Drain(id string, as domain.SessionOutcome) *Session {
	s := m.Active(id)
	if s == nil {
		return nil
	}

	m.Fence(s, as)
	s.cancel()
	<-s.done

	return s
}

// intentLocks serialize control operations on one pack so the most recent
// explicit request is applied last.
type intentLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newIntentLocks() *intentLocks {
	return &intentLocks{locks: make(map[string]chan struct{})}
}

func (l *intentLocks) lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[id] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
