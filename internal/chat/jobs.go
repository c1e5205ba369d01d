package chat

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/suPer8Hu/momento/internal/store"
)

// handle owns one store subscription and cancels it at most once. It may be
// cancelled before the subscription is attached, in which case the late
// subscription is dropped on arrival.
type handle struct {
	mu        sync.Mutex
	sub       store.Subscription
	cancelled bool
}

func (h *handle) attach(sub store.Subscription) {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	h.sub = sub
	h.mu.Unlock()
}

func (h *handle) cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (h *handle) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled
}

// job is the per-job state record. Fields other than the handles are
// guarded by the owning Session's mutex.
type job struct {
	id          string
	userID      string
	submittedAt time.Time

	cond   handle
	result handle

	deadline clockwork.Timer
	gc       clockwork.Timer

	terminal      LifecycleStatus
	resultApplied bool
	gcScheduled   bool
	published     bool
	processingMs  int64
}

func (j *job) stopDeadline() {
	if j.deadline != nil {
		j.deadline.Stop()
	}
}
