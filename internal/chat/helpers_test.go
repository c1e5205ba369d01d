package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/store"
	"github.com/suPer8Hu/momento/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type zeroEntropy struct{}

func (zeroEntropy) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type staticStatus bool

func (s staticStatus) Down() bool { return bool(s) }

// spyStore wraps a store, counts removals and can fail or block writes.
type spyStore struct {
	store.Store

	mu       sync.Mutex
	removed  map[string]int
	failSet  map[string]error
	blockTxn chan struct{}
	inTxn    chan struct{}
}

func newSpyStore() *spyStore {
	return &spyStore{
		Store:   memstore.New(),
		removed: make(map[string]int),
		failSet: make(map[string]error),
	}
}

func (s *spyStore) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	s.removed[path]++
	s.mu.Unlock()
	return s.Store.Remove(ctx, path)
}

func (s *spyStore) Set(ctx context.Context, path string, value any) error {
	s.mu.Lock()
	err := s.failSet[path]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, path, value)
}

func (s *spyStore) Transaction(ctx context.Context, path string, fn store.UpdateFn) (store.Snapshot, error) {
	s.mu.Lock()
	block, in := s.blockTxn, s.inTxn
	s.mu.Unlock()
	if block != nil {
		in <- struct{}{}
		<-block
	}
	return s.Store.Transaction(ctx, path, fn)
}

func (s *spyStore) removals(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[path]
}

type recordedEvents struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *recordedEvents) PublishLifecycle(_ context.Context, ev LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) all() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LifecycleEvent(nil), r.events...)
}

type fixture struct {
	st     *spyStore
	repo   *Repo
	clock  *clockwork.FakeClock
	events *recordedEvents
	svc    *Service
}

func newFixture(t *testing.T, status StatusSource) *fixture {
	t.Helper()
	st := newSpyStore()
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		st:     st,
		repo:   NewRepo(st),
		clock:  clockwork.NewFakeClockAt(t0),
		events: &recordedEvents{},
	}
	f.svc = NewService(f.repo, status, Options{
		Quota:   DefaultQuota(),
		Clock:   f.clock,
		Entropy: zeroEntropy{},
		Events:  f.events,
		Logger:  zap.NewNop(),
	})
	return f
}

// signIn loads uid into a new session, seeding the user record first when
// promptCount is not negative.
func (f *fixture) signIn(t *testing.T, uid string, promptCount int) *Session {
	t.Helper()
	ctx := context.Background()
	if promptCount >= 0 {
		require.NoError(t, f.repo.PutUser(ctx, User{
			UID:         uid,
			Email:       uid + "@example.com",
			DisplayName: uid,
			PromptCount: promptCount,
			LastReset:   MillisOf(f.clock.Now().Add(-time.Hour)),
		}))
	}
	sess := NewSession("sess-" + uid)
	_, err := f.svc.LoadUser(ctx, sess, Profile{UID: uid, Email: uid + "@example.com", DisplayName: uid})
	require.NoError(t, err)
	t.Cleanup(func() { f.svc.Close(sess) })
	return sess
}

func (f *fixture) setCondition(t *testing.T, qid string, c Condition) {
	t.Helper()
	c.QuestionID = qid
	require.NoError(t, f.st.Set(context.Background(), ConditionPath(qid), c))
}

func (f *fixture) setResult(t *testing.T, qid, response string) {
	t.Helper()
	require.NoError(t, f.st.Set(context.Background(), ResultPath(qid), Result{
		QuestionID:     qid,
		Response:       response,
		ProcessingTime: 0.42,
		Timestamp:      MillisOf(f.clock.Now()),
	}))
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	snap, err := f.st.Get(context.Background(), path)
	require.NoError(t, err)
	return snap.Exists()
}

func waitEntry(t *testing.T, sess *Session, qid string, cond func(ChatEntry) bool) ChatEntry {
	t.Helper()
	var last ChatEntry
	ok := assert.Eventually(t, func() bool {
		e, found := sess.Entry(qid)
		last = e
		return found && cond(e)
	}, 2*time.Second, 5*time.Millisecond)
	if !ok {
		t.Fatalf("entry %s never matched, last seen %+v", qid, last)
	}
	return last
}

func hasStatus(s LifecycleStatus) func(ChatEntry) bool {
	return func(e ChatEntry) bool { return e.Status == s }
}

func jobOf(sess *Session, qid string) *job {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.jobs[qid]
}

// settle gives pending store callbacks a chance to run.
func settle() { time.Sleep(50 * time.Millisecond) }

var errBoom = errors.New("boom")
