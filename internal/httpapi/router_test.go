package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/ai"
	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/httpapi/handlers"
	"github.com/suPer8Hu/momento/internal/metrics"
	"github.com/suPer8Hu/momento/internal/session"
	"github.com/suPer8Hu/momento/internal/store/memstore"
	"github.com/suPer8Hu/momento/internal/worker"
)

const devSecret = "test-dev-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEnv struct {
	router   *gin.Engine
	repo     *chat.Repo
	monitor  *chat.ServerMonitor
	sessions *session.Manager
	clock    *clockwork.FakeClock
	rec      *metrics.Recorder
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })
	repo := chat.NewRepo(st)
	logger := zap.NewNop()

	monitor := chat.NewServerMonitor(repo, logger)
	require.NoError(t, monitor.Start(context.Background()))
	t.Cleanup(monitor.Stop)

	clock := clockwork.NewFakeClockAt(time.Now())
	rec := metrics.New()
	svc := chat.NewService(repo, monitor, chat.Options{Clock: clock, Metrics: rec, Logger: logger})
	mgr := session.NewManager(auth.NewDevProvider(devSecret), svc, logger)
	t.Cleanup(mgr.Close)

	h := handlers.NewHandler(mgr, svc, auth.NewTokenIssuer("session-secret", time.Hour), monitor, logger)
	h.Heartbeat = 50 * time.Millisecond

	return &apiEnv{
		router:   NewRouter(h, rec, logger),
		repo:     repo,
		monitor:  monitor,
		sessions: mgr,
		clock:    clock,
		rec:      rec,
	}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

type signInData struct {
	Token   string `json:"token"`
	Session struct {
		ID    string          `json:"id"`
		State session.State   `json:"state"`
		Error string          `json:"error"`
		Quota *chat.QuotaView `json:"quota"`
	} `json:"session"`
	InitialPrompt *struct {
		QuestionID string `json:"question_id"`
		Error      string `json:"error"`
	} `json:"initial_prompt"`
}

func (e *apiEnv) signIn(t *testing.T, uid, initialPrompt string) signInData {
	t.Helper()
	cred, err := auth.MintDevCredential(devSecret, auth.Identity{UID: uid, Email: uid + "@example.com", DisplayName: uid}, time.Hour)
	require.NoError(t, err)

	w, env := e.do(t, http.MethodPost, "/session", "", gin.H{"credential": cred, "initial_prompt": initialPrompt})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out signInData
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestPingAndFallbacks(t *testing.T) {
	e := newAPI(t)

	w, env := e.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, env = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)

	w, env = e.do(t, http.MethodPut, "/ping", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 40500, env.Code)
}

func TestSignInRejectsBadCredential(t *testing.T) {
	e := newAPI(t)

	w, env := e.do(t, http.MethodPost, "/session", "", gin.H{"credential": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40104, env.Code)

	w, env = e.do(t, http.MethodPost, "/session", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10001, env.Code)
}

func TestSignInMeAndSignOut(t *testing.T) {
	e := newAPI(t)
	in := e.signIn(t, "alice", "")
	assert.Equal(t, session.StateAuthenticated, in.Session.State)
	require.NotNil(t, in.Session.Quota)
	assert.Equal(t, 5, in.Session.Quota.Remaining)
	assert.Nil(t, in.InitialPrompt)

	w, env := e.do(t, http.MethodGet, "/me", in.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"uid":"alice"`)

	w, _ = e.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/session", in.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, e.sessions.Len())

	w, env = e.do(t, http.MethodGet, "/me", in.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40103, env.Code)
}

func TestSubmitPrompt(t *testing.T) {
	e := newAPI(t)
	in := e.signIn(t, "bob", "")

	w, env := e.do(t, http.MethodPost, "/chat/prompts", in.Token, gin.H{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40001, env.Code)

	w, env = e.do(t, http.MethodPost, "/chat/prompts", in.Token, gin.H{"message": "What is Go?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sub struct {
		QuestionID string         `json:"question_id"`
		Quota      chat.QuotaView `json:"quota"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.NotEmpty(t, sub.QuestionID)
	assert.Equal(t, 4, sub.Quota.Remaining)

	w, env = e.do(t, http.MethodGet, "/chat/messages", in.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Messages   []chat.ChatEntry `json:"messages"`
		Submitting bool             `json:"submitting"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Messages, 2)
	assert.Equal(t, chat.RoleUser, list.Messages[0].Role)
	assert.Equal(t, sub.QuestionID, list.Messages[1].ID)
	assert.False(t, list.Submitting)
}

func TestSubmitPromptQuotaExceeded(t *testing.T) {
	e := newAPI(t)
	require.NoError(t, e.repo.PutUser(context.Background(), chat.User{
		UID:         "carol",
		PromptCount: 5,
		LastReset:   chat.MillisOf(e.clock.Now().Add(-time.Hour)),
	}))
	in := e.signIn(t, "carol", "")
	assert.False(t, in.Session.Quota.CanSubmit)

	w, env := e.do(t, http.MethodPost, "/chat/prompts", in.Token, gin.H{"message": "one more"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 42901, env.Code)
}

func TestMeShowsQuotaResetAfterWindow(t *testing.T) {
	e := newAPI(t)
	require.NoError(t, e.repo.PutUser(context.Background(), chat.User{
		UID:         "erin",
		PromptCount: 5,
		LastReset:   chat.MillisOf(e.clock.Now().Add(-time.Hour)),
	}))
	in := e.signIn(t, "erin", "")
	require.NotNil(t, in.Session.Quota)
	assert.False(t, in.Session.Quota.CanSubmit)

	e.clock.Advance(chat.DefaultQuotaWindow)

	w, env := e.do(t, http.MethodGet, "/me", in.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Quota *chat.QuotaView `json:"quota"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.NotNil(t, me.Quota)
	assert.True(t, me.Quota.CanSubmit)
	assert.Equal(t, 5, me.Quota.Remaining)
	assert.Equal(t, 0, me.Quota.Used)

	u, err := e.repo.GetUser(context.Background(), "erin")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Zero(t, u.PromptCount)
	assert.Equal(t, chat.MillisOf(e.clock.Now()), u.LastReset)
}

func TestSubmitPromptServerDown(t *testing.T) {
	e := newAPI(t)
	require.NoError(t, e.repo.SetServerStatus(context.Background(), chat.ServerStatus{Status: "Down", Message: "maintenance"}))
	require.Eventually(t, e.monitor.Down, time.Second, 5*time.Millisecond)

	w, env := e.do(t, http.MethodGet, "/serverstatus", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"down":true`)

	in := e.signIn(t, "dave", "")
	w, env = e.do(t, http.MethodPost, "/chat/prompts", in.Token, gin.H{"message": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 50301, env.Code)
}

func TestInitialPromptAndWorkerRoundTrip(t *testing.T) {
	e := newAPI(t)
	in := e.signIn(t, "erin", "Say hi")
	require.NotNil(t, in.InitialPrompt)
	require.NotEmpty(t, in.InitialPrompt.QuestionID)
	assert.Empty(t, in.InitialPrompt.Error)

	w := worker.New(e.repo, ai.EchoProvider{}, worker.Options{Logger: zap.NewNop()})
	prompts, _, err := e.repo.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Contains(t, prompts, in.InitialPrompt.QuestionID)
	w.Process(context.Background(), prompts[in.InitialPrompt.QuestionID])

	assert.Eventually(t, func() bool {
		_, env := e.do(t, http.MethodGet, "/chat/messages", in.Token, nil)
		var list struct {
			Messages []chat.ChatEntry `json:"messages"`
		}
		if json.Unmarshal(env.Data, &list) != nil || len(list.Messages) != 2 {
			return false
		}
		last := list.Messages[1]
		return last.Status == chat.StatusCompleted && last.Content == "Echo: Say hi"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream(t *testing.T) {
	e := newAPI(t)
	in := e.signIn(t, "frank", "")
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/stream?access_token="+in.Token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 32)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case ev, ok := <-events:
			if !ok {
				return ""
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return ""
		}
	}
	assert.Equal(t, "snapshot", next())

	w, _ := e.do(t, http.MethodPost, "/chat/prompts", in.Token, gin.H{"message": "stream me"})
	require.Equal(t, http.StatusOK, w.Code)

	seen := map[string]int{}
	for seen["entry"] < 2 {
		ev := next()
		require.NotEmpty(t, ev)
		seen[ev]++
	}

	for ev := next(); ev != "ping"; ev = next() {
		require.NotEmpty(t, ev)
	}

	w, _ = e.do(t, http.MethodDelete, "/session", in.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	for ev := next(); ev != "closed"; ev = next() {
		require.NotEmpty(t, ev)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newAPI(t)
	e.do(t, http.MethodGet, "/ping", "", nil)

	w, _ := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "momento_http_requests_total")
}
