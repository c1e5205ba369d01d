package chat

import (
	"sync"
)

const watchBuffer = 64

// Session is the chat state of one signed-in user: the quota snapshot, the
// ordered chat entries, the submission guard and the jobs being observed.
// It is created on sign-in and torn down with Service.Close on sign-out.
type Session struct {
	ID string

	mu         sync.Mutex
	user       *User
	entries    []ChatEntry
	index      map[string]int
	submitting bool
	jobs       map[string]*job
	watchers   map[chan ChatEntry]struct{}
	closed     bool
}

func NewSession(id string) *Session {
	return &Session{
		ID:       id,
		index:    make(map[string]int),
		jobs:     make(map[string]*job),
		watchers: make(map[chan ChatEntry]struct{}),
	}
}

// User returns the quota snapshot; ok is false until the user record loaded.
func (s *Session) User() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Entries returns a copy of the chat in display order.
func (s *Session) Entries() []ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Session) Entry(id string) (ChatEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return ChatEntry{}, false
	}
	return s.entries[i], true
}

func (s *Session) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// ActiveJobs is the number of jobs not yet reaped.
func (s *Session) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Watch streams every entry that is added or changed. A slow reader misses
// updates rather than stalling the session. stop is idempotent.
func (s *Session) Watch() (<-chan ChatEntry, func()) {
	ch := make(chan ChatEntry, watchBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Session) hasEntryLocked(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Session) appendLocked(e ChatEntry) {
	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	s.emitLocked(e)
}

func (s *Session) updateLocked(id string, fn func(e *ChatEntry)) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	fn(&s.entries[i])
	s.emitLocked(s.entries[i])
}

func (s *Session) emitLocked(e ChatEntry) {
	for ch := range s.watchers {
		select {
		case ch <- e:
		default:
		}
	}
}

// closeLocked marks the session closed, ends every watch and returns the
// jobs it held.
func (s *Session) closeLocked() []*job {
	s.closed = true
	s.submitting = false
	for ch := range s.watchers {
		close(ch)
	}
	clear(s.watchers)

	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}
