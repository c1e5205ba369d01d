package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/momento/internal/ai"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/store/memstore"
)

type providerFunc func(ctx context.Context, messages []ai.Message) (string, error)

func (f providerFunc) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	return f(ctx, messages)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) WorkerProcessed(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

var start = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newWorker(t *testing.T, p ai.Provider) (*Worker, *chat.Repo, *clockwork.FakeClock, *countingMetrics) {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })
	repo := chat.NewRepo(st)
	clock := clockwork.NewFakeClockAt(start)
	m := &countingMetrics{}
	w := New(repo, p, Options{
		Concurrency:  2,
		PollInterval: time.Second,
		SystemPrompt: "You are Momento AI.",
		Clock:        clock,
		Metrics:      m,
	})
	return w, repo, clock, m
}

func seedPrompt(t *testing.T, repo *chat.Repo, qid, msg string) chat.Prompt {
	t.Helper()
	p := chat.Prompt{QuestionID: qid, UserID: "u1", Message: msg, Timestamp: chat.MillisOf(start), Status: "queued"}
	require.NoError(t, repo.CreatePrompt(context.Background(), p))
	_, err := repo.CreateCondition(context.Background(), chat.Condition{QuestionID: qid, Status: chat.ConditionQueued})
	require.NoError(t, err)
	return p
}

func condition(t *testing.T, repo *chat.Repo, qid string) chat.Condition {
	t.Helper()
	snap, err := repo.Store().Get(context.Background(), chat.ConditionPath(qid))
	require.NoError(t, err)
	var c chat.Condition
	if snap.Exists() {
		require.NoError(t, snap.Decode(&c))
	}
	return c
}

func TestProcessCompletes(t *testing.T) {
	var got []ai.Message
	w, repo, _, m := newWorker(t, providerFunc(func(_ context.Context, msgs []ai.Message) (string, error) {
		got = msgs
		return "  Paris.  ", nil
	}))
	p := seedPrompt(t, repo, "09:00:00:000-AAAA0001", "Capital of France?")

	w.Process(context.Background(), p)

	require.Len(t, got, 2)
	assert.Equal(t, ai.RoleSystem, got[0].Role)
	assert.Equal(t, "Capital of France?", got[1].Content)

	snap, err := repo.Store().Get(context.Background(), chat.ResultPath(p.QuestionID))
	require.NoError(t, err)
	var res chat.Result
	require.NoError(t, snap.Decode(&res))
	assert.Equal(t, "Paris.", res.Response)
	assert.Equal(t, p.QuestionID, res.QuestionID)

	assert.Equal(t, chat.ConditionCompleted, condition(t, repo, p.QuestionID).Status)

	prompts, _, err := repo.ListPrompts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prompts)
	assert.Equal(t, 1, m.count(OutcomeCompleted))
}

func TestProcessReportsProviderError(t *testing.T) {
	w, repo, _, m := newWorker(t, providerFunc(func(context.Context, []ai.Message) (string, error) {
		return "", errors.New("model overloaded")
	}))
	p := seedPrompt(t, repo, "09:00:00:000-AAAA0002", "hi")

	w.Process(context.Background(), p)

	c := condition(t, repo, p.QuestionID)
	assert.Equal(t, chat.ConditionError, c.Status)
	assert.Equal(t, "model overloaded", c.Error)

	snap, err := repo.Store().Get(context.Background(), chat.ResultPath(p.QuestionID))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	assert.Equal(t, 1, m.count(OutcomeFailed))
}

func TestProcessEmptyPrompt(t *testing.T) {
	called := false
	w, repo, _, m := newWorker(t, providerFunc(func(context.Context, []ai.Message) (string, error) {
		called = true
		return "", nil
	}))
	p := seedPrompt(t, repo, "09:00:00:000-AAAA0003", "   ")

	w.Process(context.Background(), p)

	assert.False(t, called)
	assert.Equal(t, chat.ConditionError, condition(t, repo, p.QuestionID).Status)
	assert.Equal(t, 1, m.count(OutcomeSkipped))
}

func TestRunDrainsQueueAndMarksStatus(t *testing.T) {
	w, repo, clock, m := newWorker(t, providerFunc(func(_ context.Context, msgs []ai.Message) (string, error) {
		return "echo " + msgs[len(msgs)-1].Content, nil
	}))
	seedPrompt(t, repo, "09:00:00:000-AAAA0004", "one")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return m.count(OutcomeCompleted) == 1 }, 2*time.Second, 5*time.Millisecond)

	snap, err := repo.Store().Get(context.Background(), chat.ServerStatusPath)
	require.NoError(t, err)
	var status chat.ServerStatus
	require.NoError(t, snap.Decode(&status))
	assert.Equal(t, "active", status.Status)
	assert.False(t, chat.IsDown(status.Status))

	// picked up on the next tick
	seedPrompt(t, repo, "09:00:01:000-AAAA0005", "two")
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return m.count(OutcomeCompleted) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	snap, err = repo.Store().Get(context.Background(), chat.ServerStatusPath)
	require.NoError(t, err)
	require.NoError(t, snap.Decode(&status))
	assert.True(t, chat.IsDown(status.Status))
}

func TestPollSkipsClaimedPrompts(t *testing.T) {
	w, repo, _, _ := newWorker(t, providerFunc(func(context.Context, []ai.Message) (string, error) {
		return "x", nil
	}))
	seedPrompt(t, repo, "09:00:00:000-AAAA0006", "hi")

	jobs := make(chan chat.Prompt, 4)
	w.poll(context.Background(), jobs)
	w.poll(context.Background(), jobs)
	assert.Len(t, jobs, 1)

	// a full pool leaves the prompt for a later poll
	w2, repo2, _, _ := newWorker(t, providerFunc(func(context.Context, []ai.Message) (string, error) {
		return "x", nil
	}))
	seedPrompt(t, repo2, "09:00:00:000-AAAA0007", "hi")
	full := make(chan chat.Prompt)
	w2.poll(context.Background(), full)
	assert.True(t, w2.claim("09:00:00:000-AAAA0007"))
}

func TestPollIgnoresPromptsWithoutQueuedCondition(t *testing.T) {
	w, repo, _, _ := newWorker(t, providerFunc(func(context.Context, []ai.Message) (string, error) {
		return "x", nil
	}))
	ctx := context.Background()
	orphan := "09:00:00:000-AAAA0008"
	require.NoError(t, repo.CreatePrompt(ctx, chat.Prompt{QuestionID: orphan, UserID: "u1", Message: "hi", Timestamp: chat.MillisOf(start)}))
	taken := "09:00:00:000-AAAA0009"
	seedPrompt(t, repo, taken, "hi")
	require.NoError(t, repo.SetCondition(ctx, chat.Condition{QuestionID: taken, Status: chat.ConditionProcessing}))

	jobs := make(chan chat.Prompt, 4)
	w.poll(ctx, jobs)
	assert.Empty(t, jobs)

	snap, err := repo.Store().Get(ctx, chat.ResultPath(orphan))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	assert.Empty(t, condition(t, repo, orphan).Status)

	// once the condition lands the prompt is picked up
	_, err = repo.CreateCondition(ctx, chat.Condition{QuestionID: orphan, Status: chat.ConditionQueued})
	require.NoError(t, err)
	w.poll(ctx, jobs)
	require.Len(t, jobs, 1)
	assert.Equal(t, orphan, (<-jobs).QuestionID)
}
