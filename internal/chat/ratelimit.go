package chat

import "time"

const (
	DefaultQuotaLimit  = 5
	DefaultQuotaWindow = 12 * time.Hour
)

// Quota is the client-side submission limit: Limit prompts per Window,
// counted from the user's lastReset.
type Quota struct {
	Limit  int
	Window time.Duration
}

func DefaultQuota() Quota {
	return Quota{Limit: DefaultQuotaLimit, Window: DefaultQuotaWindow}
}

func (q Quota) CanSubmit(u User) bool {
	return q.Remaining(u) > 0
}

func (q Quota) Remaining(u User) int {
	return max(0, q.Limit-u.PromptCount)
}

func (q Quota) TimeUntilReset(u User, now time.Time) time.Duration {
	return max(0, q.Window-now.Sub(u.LastReset.Time()))
}

// NeedsReset reports whether the window since lastReset has elapsed.
func (q Quota) NeedsReset(u User, now time.Time) bool {
	return now.Sub(u.LastReset.Time()) > q.Window
}

// QuotaView is the quota summary shown to the user.
type QuotaView struct {
	Limit          int           `json:"limit"`
	Used           int           `json:"used"`
	Remaining      int           `json:"remaining"`
	CanSubmit      bool          `json:"can_submit"`
	TimeUntilReset time.Duration `json:"-"`
	ResetInSeconds int64         `json:"reset_in_seconds"`
}

// View treats an elapsed window as already reset.
func (q Quota) View(u User, now time.Time) QuotaView {
	if q.NeedsReset(u, now) {
		u.PromptCount = 0
		u.LastReset = MillisOf(now)
	}
	left := q.TimeUntilReset(u, now)
	return QuotaView{
		Limit:          q.Limit,
		Used:           u.PromptCount,
		Remaining:      q.Remaining(u),
		CanSubmit:      q.CanSubmit(u),
		TimeUntilReset: left,
		ResetInSeconds: int64(left / time.Second),
	}
}
