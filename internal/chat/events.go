package chat

import (
	"context"
	"time"
)

// LifecycleEvent is published once per job, when it first reaches a
// terminal state.
type LifecycleEvent struct {
	QuestionID       string          `json:"question_id"`
	UserID           string          `json:"user_id"`
	Status           LifecycleStatus `json:"status"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	At               time.Time       `json:"at"`

	elapsed time.Duration
}

type EventPublisher interface {
	PublishLifecycle(ctx context.Context, ev LifecycleEvent) error
}

// Metrics receives coordinator counters. Reasons and statuses are low
// cardinality label values.
type Metrics interface {
	Submitted()
	Rejected(reason string)
	Terminal(status LifecycleStatus, elapsed time.Duration)
	Reaped(ok bool)
}

type nopEvents struct{}

func (nopEvents) PublishLifecycle(context.Context, LifecycleEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) Submitted() {}
func (nopMetrics) Rejected(string) {}
func (nopMetrics) Terminal(LifecycleStatus, time.Duration) {}
func (nopMetrics) Reaped(bool) {}
