package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LifecycleStatus is the status a ChatEntry shows. The zero value means the
// entry carries no status (user messages).
type LifecycleStatus string

const (
	StatusQueued     LifecycleStatus = "queued"
	StatusProcessing LifecycleStatus = "processing"
	StatusCompleted  LifecycleStatus = "completed"
	StatusError      LifecycleStatus = "error"
	StatusTimeout    LifecycleStatus = "timeout"
)

func (s LifecycleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}

// ChatEntry is the local projection of one chat line. Assistant entries use
// the question id as their id.
type ChatEntry struct {
	ID               string          `json:"id"`
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	Timestamp        time.Time       `json:"timestamp"`
	Status           LifecycleStatus `json:"status,omitempty"`
	ProcessingTimeMs *int64          `json:"processing_time_ms,omitempty"`
}

const (
	msgSubmitFailed = "Failed to submit prompt"
	msgTimedOut     = "Request timed out. Please try again."
	msgRateLimited  = "Rate limit exceeded. Please try again later."
	msgWorkerFailed = "Something went wrong. Please try again."
)
