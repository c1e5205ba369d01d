// Package worker is a reference implementation of the prompt worker: it
// drains prompts/ from the shared store and answers through an ai.Provider.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/ai"
	"github.com/suPer8Hu/momento/internal/chat"
)

const (
	DefaultConcurrency  = 2
	DefaultPollInterval = 5 * time.Second

	statusActive = "active"
	statusDown   = "Down"

	generateTimeout = 3 * time.Minute
	writeTimeout    = 10 * time.Second
)

// Outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var errEmptyPrompt = errors.New("prompt is empty")

type Metrics interface {
	WorkerProcessed(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) WorkerProcessed(string) {}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	SystemPrompt string
	Clock        clockwork.Clock
	Metrics      Metrics
	Logger       *zap.Logger
}

type Worker struct {
	repo         *chat.Repo
	provider     ai.Provider
	concurrency  int
	pollInterval time.Duration
	systemPrompt string
	clock        clockwork.Clock
	metrics      Metrics
	logger       *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{} // dispatched ids still present under prompts/
}

func New(repo *chat.Repo, provider ai.Provider, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Worker{
		repo:         repo,
		provider:     provider,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		systemPrompt: opts.SystemPrompt,
		clock:        opts.Clock,
		metrics:      opts.Metrics,
		logger:       opts.Logger.Named("worker"),
		seen:         make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight prompts and
// marks the pool down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.setStatus(ctx, statusActive, fmt.Sprintf("Processing with %d workers", w.concurrency)); err != nil {
		return err
	}
	w.logger.Info("worker started", zap.Int("concurrency", w.concurrency), zap.Duration("poll", w.pollInterval))

	jobs := make(chan chat.Prompt, w.concurrency)
	var wg sync.WaitGroup
	wg.Add(w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		go func() {
			defer wg.Done()
			for p := range jobs {
				w.Process(ctx, p)
			}
		}()
	}

	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			w.logger.Info("worker stopped")
			stopCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := w.setStatus(stopCtx, statusDown, "Worker stopped"); err != nil {
				w.logger.Warn("mark server down failed", zap.Error(err))
			}
			return nil
		case <-ticker.Chan():
			w.poll(ctx, jobs)
		}
	}
}

func (w *Worker) poll(ctx context.Context, jobs chan<- chat.Prompt) {
	prompts, bad, err := w.repo.ListPrompts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("list prompts failed", zap.Error(err))
		}
		return
	}
	for _, id := range bad {
		w.logger.Warn("skipping malformed prompt", zap.String("questionID", id))
	}

	w.mu.Lock()
	for id := range w.seen {
		if _, ok := prompts[id]; !ok {
			delete(w.seen, id)
		}
	}
	w.mu.Unlock()

	for id, p := range prompts {
		if !w.claim(id) {
			continue
		}
		if !w.queued(ctx, id) {
			w.release(id)
			continue
		}
		select {
		case jobs <- p:
		case <-ctx.Done():
			return
		default:
			// pool saturated; pick it up on a later poll
			w.release(id)
		}
	}
}

// queued reports whether the prompt's condition reads queued. A prompt
// without one belongs to a submission that never finished enqueueing.
func (w *Worker) queued(ctx context.Context, id string) bool {
	c, err := w.repo.GetCondition(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("read condition failed", zap.String("questionID", id), zap.Error(err))
		}
		return false
	}
	if c == nil || c.Status != chat.ConditionQueued {
		w.logger.Debug("prompt not queued", zap.String("questionID", id))
		return false
	}
	return true
}

func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	delete(w.seen, id)
	w.mu.Unlock()
}

// Process answers one prompt: processing, result, completed, then the job
// record is deleted. Any failure is reported as an error condition.
func (w *Worker) Process(ctx context.Context, p chat.Prompt) {
	qid := p.QuestionID
	log := w.logger.With(zap.String("questionID", qid), zap.String("userID", p.UserID))

	if strings.TrimSpace(p.Message) == "" {
		log.Warn("prompt has no message")
		w.fail(ctx, log, qid, errEmptyPrompt)
		w.metrics.WorkerProcessed(OutcomeSkipped)
		return
	}

	if err := w.writeCondition(ctx, qid, chat.ConditionProcessing, ""); err != nil {
		log.Error("mark processing failed", zap.Error(err))
		w.release(qid)
		w.metrics.WorkerProcessed(OutcomeFailed)
		return
	}
	log.Info("processing prompt")

	start := w.clock.Now()
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	reply, err := w.provider.Chat(genCtx, ai.Conversation(w.systemPrompt, p.Message))
	cancel()
	elapsed := w.clock.Since(start)
	if err != nil {
		log.Error("generation failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		w.fail(ctx, log, qid, err)
		w.metrics.WorkerProcessed(OutcomeFailed)
		return
	}

	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer wcancel()
	res := chat.Result{
		QuestionID:     qid,
		Response:       strings.TrimSpace(reply),
		ProcessingTime: math.Round(elapsed.Seconds()*100) / 100,
		Timestamp:      chat.MillisOf(w.clock.Now()),
	}
	if err := w.repo.PutResult(wctx, res); err != nil {
		log.Error("write result failed", zap.Error(err))
		w.fail(ctx, log, qid, err)
		w.metrics.WorkerProcessed(OutcomeFailed)
		return
	}
	if err := w.writeCondition(wctx, qid, chat.ConditionCompleted, ""); err != nil {
		log.Warn("mark completed failed", zap.Error(err))
	}
	if err := w.repo.RemovePrompt(wctx, qid); err != nil {
		log.Warn("delete prompt failed", zap.Error(err))
	}
	w.metrics.WorkerProcessed(OutcomeCompleted)
	log.Info("processed prompt", zap.Duration("elapsed", elapsed))
}

// fail reports err as the job's condition and drops the job record so it is
// not picked up again.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, qid string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := w.writeCondition(wctx, qid, chat.ConditionError, cause.Error()); err != nil {
		log.Error("mark error failed", zap.Error(err))
	}
	if err := w.repo.RemovePrompt(wctx, qid); err != nil {
		log.Warn("delete prompt failed", zap.Error(err))
	}
}

func (w *Worker) writeCondition(ctx context.Context, qid string, status chat.ConditionStatus, msg string) error {
	return w.repo.SetCondition(ctx, chat.Condition{
		QuestionID: qid,
		Status:     status,
		Error:      msg,
		Timestamp:  chat.MillisOf(w.clock.Now()),
	})
}

func (w *Worker) setStatus(ctx context.Context, status, msg string) error {
	return w.repo.SetServerStatus(ctx, chat.ServerStatus{
		Status:     status,
		Message:    msg,
		LastUpdate: chat.MillisOf(w.clock.Now()),
	})
}
