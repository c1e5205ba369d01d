package memstore

import (
	"sync"

	"github.com/suPer8Hu/momento/internal/store"
)

// subscription delivers snapshots in order on its own goroutine so that
// writers never run subscriber code while holding the store lock.
type subscription struct {
	path     string
	fn       func(store.Snapshot)
	onCancel func(*subscription)

	mu      sync.Mutex
	queue   []store.Snapshot
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
}

func newSubscription(path string, fn func(store.Snapshot), onCancel func(*subscription)) *subscription {
	sub := &subscription{
		path:     path,
		fn:       fn,
		onCancel: onCancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (s *subscription) push(snap store.Snapshot) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.fn(snap)
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		s.onCancel(s)
	})
}
