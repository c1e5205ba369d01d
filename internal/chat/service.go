package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/store"
)

var (
	ErrNotReady           = errors.New("chat: user data not loaded")
	ErrEmptyPrompt        = errors.New("chat: prompt is empty")
	ErrQuotaExceeded      = errors.New("chat: prompt quota exceeded")
	ErrSubmissionInFlight = errors.New("chat: a prompt is already being submitted")
	ErrServerDown         = errors.New("chat: worker pool is down")
)

const (
	DefaultJobTimeout   = 5 * time.Minute
	DefaultDisplayGrace = 2 * time.Second

	storeOpTimeout = 10 * time.Second
)

type Options struct {
	Quota        Quota
	JobTimeout   time.Duration
	DisplayGrace time.Duration
	Clock        clockwork.Clock
	Entropy      io.Reader // question id suffix source; nil uses ulid's default
	Events       EventPublisher
	Metrics      Metrics
	Logger       *zap.Logger
}

// Profile is the identity data copied into a new user record.
type Profile struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Service is the prompt lifecycle coordinator. It writes jobs to the shared
// store, follows their condition and result records, bounds their lifetime
// and removes their transient records once the outcome has been shown.
type Service struct {
	repo    *Repo
	status  StatusSource
	quota   Quota
	timeout time.Duration
	grace   time.Duration
	clock   clockwork.Clock
	events  EventPublisher
	metrics Metrics
	logger  *zap.Logger

	entropyMu sync.Mutex
	entropy   io.Reader
}

func NewService(repo *Repo, status StatusSource, opts Options) *Service {
	if opts.Quota.Limit <= 0 && opts.Quota.Window <= 0 {
		opts.Quota = DefaultQuota()
	}
	if opts.Quota.Window <= 0 {
		opts.Quota.Window = DefaultQuotaWindow
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.DisplayGrace <= 0 {
		opts.DisplayGrace = DefaultDisplayGrace
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Events == nil {
		opts.Events = nopEvents{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		status:  status,
		quota:   opts.Quota,
		timeout: opts.JobTimeout,
		grace:   opts.DisplayGrace,
		clock:   opts.Clock,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("coordinator"),
		entropy: opts.Entropy,
	}
}

func (s *Service) Quota() Quota { return s.quota }

// QuotaView summarizes the session's quota at the current instant.
func (s *Service) QuotaView(sess *Session) (QuotaView, bool) {
	u, ok := sess.User()
	if !ok {
		return QuotaView{}, false
	}
	return s.quota.View(u, s.clock.Now()), true
}

// LoadUser fetches the user record, creating it on first sign-in and
// zeroing the counter when the quota window has elapsed, and installs it as
// the session's quota snapshot.
func (s *Service) LoadUser(ctx context.Context, sess *Session, p Profile) (User, error) {
	u, err := s.repo.GetUser(ctx, p.UID)
	if err != nil {
		return User{}, err
	}

	now := s.clock.Now()
	switch {
	case u == nil:
		u = &User{
			UID:         p.UID,
			Email:       p.Email,
			DisplayName: p.DisplayName,
			PhotoURL:    p.PhotoURL,
			LastReset:   MillisOf(now),
		}
		if err := s.repo.PutUser(ctx, *u); err != nil {
			return User{}, err
		}
		s.logger.Info("created user record", zap.String("uid", p.UID))
	case s.quota.NeedsReset(*u, now):
		u.PromptCount = 0
		u.LastReset = MillisOf(now)
		if err := s.repo.PutUser(ctx, *u); err != nil {
			return User{}, err
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return User{}, ErrNotReady
	}
	cp := *u
	sess.user = &cp
	return cp, nil
}

// RefreshQuota resets the session user's counter if the window elapsed.
func (s *Service) RefreshQuota(ctx context.Context, sess *Session) (User, error) {
	u, ok := sess.User()
	if !ok {
		return User{}, ErrNotReady
	}
	now := s.clock.Now()
	if !s.quota.NeedsReset(u, now) {
		return u, nil
	}

	u.PromptCount = 0
	u.LastReset = MillisOf(now)
	if err := s.repo.PutUser(ctx, u); err != nil {
		return User{}, err
	}
	sess.mu.Lock()
	if sess.user != nil && sess.user.UID == u.UID {
		cp := u
		sess.user = &cp
	}
	sess.mu.Unlock()
	return u, nil
}

// Submit publishes text as a new job and starts observing it. It returns
// the question id. Precondition failures return before anything is
// written; a failed write marks the assistant entry as an error and returns
// the write error alongside the id.
func (s *Service) Submit(ctx context.Context, sess *Session, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		s.metrics.Rejected("empty")
		return "", ErrEmptyPrompt
	}
	if _, err := s.RefreshQuota(ctx, sess); err != nil {
		if errors.Is(err, ErrNotReady) {
			s.metrics.Rejected("not_ready")
		}
		return "", err
	}

	now := s.clock.Now()
	qid, err := s.newQuestionID(now)
	if err != nil {
		return "", err
	}

	sess.mu.Lock()
	switch {
	case sess.closed || sess.user == nil:
		err = ErrNotReady
	case sess.submitting:
		err = ErrSubmissionInFlight
	case !s.quota.CanSubmit(*sess.user):
		err = ErrQuotaExceeded
	case s.status != nil && s.status.Down():
		err = ErrServerDown
	case sess.hasEntryLocked(qid):
		err = ErrQuestionIDCollision
	}
	if err != nil {
		sess.mu.Unlock()
		s.metrics.Rejected(rejectReason(err))
		return "", err
	}

	sess.submitting = true
	user := *sess.user
	j := &job{id: qid, userID: user.UID, submittedAt: now}
	sess.jobs[qid] = j
	sess.appendLocked(ChatEntry{
		ID:        "user-" + uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: now,
	})
	sess.appendLocked(ChatEntry{
		ID:        qid,
		Role:      RoleAssistant,
		Timestamp: now,
		Status:    StatusQueued,
	})
	sess.mu.Unlock()

	written, werr := s.enqueue(ctx, user, qid, text, now)

	sess.mu.Lock()
	sess.submitting = false
	if werr != nil {
		delete(sess.jobs, qid)
		j.terminal = StatusError
		sess.updateLocked(qid, func(e *ChatEntry) {
			e.Status = StatusError
			e.Content = msgSubmitFailed
		})
		sess.mu.Unlock()

		s.logger.Error("submit prompt failed", zap.String("question_id", qid), zap.Error(werr))
		s.metrics.Rejected(rejectReason(werr))
		return qid, werr
	}
	if sess.user != nil && sess.user.UID == written.UID {
		sess.user = &written
	}
	closed := sess.closed
	sess.mu.Unlock()

	s.metrics.Submitted()
	s.logger.Info("prompt submitted", zap.String("question_id", qid), zap.String("uid", user.UID))
	if !closed {
		s.observe(sess, j)
	}
	return qid, nil
}

// enqueue performs the three writes of a submission in order and returns
// the user record as written. Nothing is rolled back on failure.
func (s *Service) enqueue(ctx context.Context, u User, qid, text string, now time.Time) (User, error) {
	err := s.repo.CreatePrompt(ctx, Prompt{
		QuestionID: qid,
		UserID:     u.UID,
		Message:    text,
		Timestamp:  MillisOf(now),
		Status:     string(ConditionQueued),
	})
	if err != nil {
		return User{}, err
	}

	created, err := s.repo.CreateCondition(ctx, Condition{
		QuestionID: qid,
		Status:     ConditionQueued,
		Timestamp:  MillisOf(now),
	})
	if err != nil {
		return User{}, err
	}
	if !created {
		s.logger.Debug("condition already present", zap.String("question_id", qid))
	}

	u.PromptCount++
	if err := s.repo.PutUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) newQuestionID(now time.Time) (string, error) {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return NewQuestionID(now, s.entropy)
}

// observe arms the deadline and opens the condition and result
// subscriptions of j.
func (s *Service) observe(sess *Session, j *job) {
	sess.mu.Lock()
	j.deadline = s.clock.AfterFunc(s.timeout, func() { s.onDeadline(sess, j) })
	sess.mu.Unlock()

	ctx := context.Background()
	condSub, err := s.repo.WatchCondition(ctx, j.id, func(snap store.Snapshot) { s.onCondition(sess, j, snap) })
	if err != nil {
		s.logger.Warn("watch condition failed", zap.String("question_id", j.id), zap.Error(err))
		j.cond.cancel()
	} else {
		j.cond.attach(condSub)
	}

	resSub, err := s.repo.WatchResult(ctx, j.id, func(snap store.Snapshot) { s.onResult(sess, j, snap) })
	if err != nil {
		s.logger.Warn("watch result failed", zap.String("question_id", j.id), zap.Error(err))
		j.result.cancel()
	} else {
		j.result.attach(resSub)
	}
}

func (s *Service) onCondition(sess *Session, j *job, snap store.Snapshot) {
	if !snap.Exists() {
		return
	}
	var c Condition
	if err := snap.Decode(&c); err != nil {
		s.logger.Warn("bad condition record", zap.String("question_id", j.id), zap.Error(err))
		return
	}
	m := mapCondition(c)

	sess.mu.Lock()
	if sess.closed || j.terminal != "" || !j.cond.active() {
		sess.mu.Unlock()
		return
	}
	if !m.known {
		sess.mu.Unlock()
		if m.legacy {
			s.logger.Info("ignoring legacy condition status", zap.String("question_id", j.id), zap.String("status", string(c.Status)))
		} else {
			s.logger.Warn("unknown condition status", zap.String("question_id", j.id), zap.String("status", string(c.Status)))
		}
		return
	}

	sess.updateLocked(j.id, func(e *ChatEntry) {
		e.Status = m.status
		if m.content != "" {
			e.Content = m.content
		}
	})

	var ev *LifecycleEvent
	if m.status.Terminal() {
		j.terminal = m.status
		// a completed job is settled by its result
		if m.status != StatusCompleted {
			ev = s.terminalEventLocked(j)
		}
	}
	sess.mu.Unlock()

	if c.Status.Terminal() {
		j.cond.cancel()
	}
	s.publish(ev)
}

func (s *Service) onResult(sess *Session, j *job, snap store.Snapshot) {
	if !snap.Exists() {
		return
	}
	var r Result
	if err := snap.Decode(&r); err != nil {
		s.logger.Warn("bad result record", zap.String("question_id", j.id), zap.Error(err))
		return
	}
	now := s.clock.Now()

	sess.mu.Lock()
	if sess.closed || !j.result.active() {
		sess.mu.Unlock()
		return
	}
	var ev *LifecycleEvent
	if j.terminal == "" || (j.terminal == StatusCompleted && !j.resultApplied) {
		ms := now.Sub(j.submittedAt).Milliseconds()
		j.terminal = StatusCompleted
		j.resultApplied = true
		j.processingMs = ms
		sess.updateLocked(j.id, func(e *ChatEntry) {
			e.Status = StatusCompleted
			e.Content = r.Response
			e.ProcessingTimeMs = &ms
		})
		ev = s.terminalEventLocked(j)
	}
	j.stopDeadline()
	s.scheduleReapLocked(sess, j)
	sess.mu.Unlock()

	j.result.cancel()
	j.cond.cancel()
	s.publish(ev)
}

func (s *Service) onDeadline(sess *Session, j *job) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	var ev *LifecycleEvent
	if j.terminal == "" {
		j.terminal = StatusTimeout
		sess.updateLocked(j.id, func(e *ChatEntry) {
			e.Status = StatusTimeout
			e.Content = msgTimedOut
		})
		s.logger.Info("prompt timed out", zap.String("question_id", j.id))
	}
	if j.terminal == StatusCompleted && !j.resultApplied {
		// no processing time to report without a result
		j.published = true
		s.logger.Warn("completed prompt never produced a result", zap.String("question_id", j.id))
	}
	ev = s.terminalEventLocked(j)
	s.scheduleReapLocked(sess, j)
	sess.mu.Unlock()

	j.cond.cancel()
	j.result.cancel()
	s.publish(ev)
}

// scheduleReapLocked arms the garbage collection of j once.
func (s *Service) scheduleReapLocked(sess *Session, j *job) {
	if j.gcScheduled {
		return
	}
	j.gcScheduled = true
	j.gc = s.clock.AfterFunc(s.grace, func() { s.reap(sess, j) })
}

// reap deletes the transient records of j. Failures are logged only; the
// worker prunes the store too.
func (s *Service) reap(sess *Session, j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	ok := true
	if err := s.repo.RemoveResult(ctx, j.id); err != nil {
		ok = false
		s.logger.Warn("delete result failed", zap.String("question_id", j.id), zap.Error(err))
	}
	if err := s.repo.RemoveCondition(ctx, j.id); err != nil {
		ok = false
		s.logger.Warn("delete condition failed", zap.String("question_id", j.id), zap.Error(err))
	}
	s.metrics.Reaped(ok)

	sess.mu.Lock()
	if sess.jobs[j.id] == j {
		delete(sess.jobs, j.id)
	}
	sess.mu.Unlock()
}

func (s *Service) terminalEventLocked(j *job) *LifecycleEvent {
	if j.published || j.terminal == "" {
		return nil
	}
	j.published = true
	now := s.clock.Now()
	return &LifecycleEvent{
		QuestionID:       j.id,
		UserID:           j.userID,
		Status:           j.terminal,
		ProcessingTimeMs: j.processingMs,
		At:               now,
		elapsed:          now.Sub(j.submittedAt),
	}
}

func (s *Service) publish(ev *LifecycleEvent) {
	if ev == nil {
		return
	}
	s.metrics.Terminal(ev.Status, ev.elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.events.PublishLifecycle(ctx, *ev); err != nil {
		s.logger.Warn("publish lifecycle event failed", zap.String("question_id", ev.QuestionID), zap.Error(err))
	}
}

// Close tears the session down on sign-out: subscriptions are cancelled and
// deadlines stopped. Reaps already scheduled still run.
func (s *Service) Close(sess *Session) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	jobs := sess.closeLocked()
	for _, j := range jobs {
		j.stopDeadline()
	}
	sess.mu.Unlock()

	for _, j := range jobs {
		j.cond.cancel()
		j.result.cancel()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return "empty"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrSubmissionInFlight):
		return "in_flight"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrServerDown):
		return "server_down"
	case errors.Is(err, ErrQuestionIDCollision):
		return "collision"
	default:
		return "write_failed"
	}
}
