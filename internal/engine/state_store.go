package engine

import (
	"sync"

	"github.com/datallboy/packman/internal/domain"
)

// storeState is owned by the actor goroutine. Nothing outside a closure run
// by the actor may touch it.
type storeState struct {
	packs    map[string]*domain.PackState
	sessions map[string]*Session
	subs     map[int]chan domain.PackState
	nextSub  int
}

func (st *storeState) get(id string) *domain.PackState {
	p, ok := st.packs[id]
	if !ok {
		s := domain.NewPackState(id)
		p = &s
		st.packs[id] = p
	}
	return p
}

// publish hands a copy to every subscriber that has room. Slow subscribers
// miss intermediate states, never the actor's time.
func (st *storeState) publish(s domain.PackState) {
	for _, ch := range st.subs {
		select {
		case ch <- s.Clone():
		default:
		}
	}
}

type storeOp struct {
	fn   func(*storeState)
	done chan struct{}
}

// StateStore is the single owner of every PackState. Reads and mutations are
// closures executed in order by one goroutine.
type StateStore struct {
	ops       chan storeOp
	quit      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
}

func NewStateStore() *StateStore {
	s := &StateStore{
		ops:  make(chan storeOp),
		quit: make(chan struct{}),
		dead: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *StateStore) loop() {
	defer close(s.dead)

	st := &storeState{
		packs:    make(map[string]*domain.PackState),
		sessions: make(map[string]*Session),
		subs:     make(map[int]chan domain.PackState),
	}

	for {
		select {
		case op := <-s.ops:
			op.fn(st)
			close(op.done)
		case <-s.quit:
			for _, ch := range st.subs {
				close(ch)
			}
			return
		}
	}
}

// do runs fn on the actor and waits for it. It reports false once the store
// is closed, in which case fn never ran.
func (s *StateStore) do(fn func(*storeState)) bool {
	op := storeOp{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- op:
	case <-s.dead:
		return false
	}
	<-op.done
	return true
}

// Get returns the state of a pack, creating it as notDownloaded on first use.
func (s *StateStore) Get(id string) domain.PackState {
	out := domain.NewPackState(id)
	s.do(func(st *storeState) {
		out = st.get(id).Clone()
	})
	return out
}

// Snapshot returns a copy of the given packs, or of every known pack when ids
// is empty.
func (s *StateStore) Snapshot(ids ...string) map[string]domain.PackState {
	out := make(map[string]domain.PackState)
	s.do(func(st *storeState) {
		if len(ids) == 0 {
			for id, p := range st.packs {
				out[id] = p.Clone()
			}
			return
		}
		for _, id := range ids {
			out[id] = st.get(id).Clone()
		}
	})
	return out
}

// Update applies fn to the state of id and publishes the result.
func (s *StateStore) Update(id string, fn func(*domain.PackState)) domain.PackState {
	out, _ := s.UpdateIf(id, nil, fn)
	return out
}

// UpdateIf applies fn only when cond holds. cond runs on the actor and may
// inspect sessions as well as the pack.
func (s *StateStore) UpdateIf(id string, cond func(*storeState) bool, fn func(*domain.PackState)) (domain.PackState, bool) {
	out := domain.NewPackState(id)
	applied := false

	s.do(func(st *storeState) {
		p := st.get(id)
		if cond != nil && !cond(st) {
			out = p.Clone()
			return
		}

		fn(p)
		p.PackID = id
		p.Normalize()
		applied = true

		out = p.Clone()
		st.publish(out)
	})

	return out, applied
}

// Subscribe streams every state change. The returned func unsubscribes.
func (s *StateStore) Subscribe(buffer int) (<-chan domain.PackState, func()) {
	ch := make(chan domain.PackState, buffer)
	var key int

	ok := s.do(func(st *storeState) {
		key = st.nextSub
		st.nextSub++
		st.subs[key] = ch
	})
	if !ok {
		close(ch)
		return ch, func() {}
	}

	return ch, func() {
		s.do(func(st *storeState) {
			if c, found := st.subs[key]; found {
				delete(st.subs, key)
				close(c)
			}
		})
	}
}

// Close stops the actor and closes every subscription.
func (s *StateStore) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.dead
}
