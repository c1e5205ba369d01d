package chat

// ConditionStatus is the status vocabulary workers write.
type ConditionStatus string

const (
	ConditionQueued      ConditionStatus = "queued"
	ConditionProcessing  ConditionStatus = "processing"
	ConditionTimeout     ConditionStatus = "timeout"
	ConditionError       ConditionStatus = "error"
	ConditionRateLimited ConditionStatus = "rate_limited"
	ConditionCompleted   ConditionStatus = "completed"

	// legacy values, ignored
	ConditionNone ConditionStatus = "none"
	ConditionDone ConditionStatus = "done"
)

// Terminal reports whether the worker is done with the job.
func (s ConditionStatus) Terminal() bool {
	switch s {
	case ConditionCompleted, ConditionTimeout, ConditionError, ConditionRateLimited:
		return true
	}
	return false
}

// mapping is what a condition does to the assistant entry.
type mapping struct {
	status  LifecycleStatus
	content string // replaces the entry content when set
	known   bool
	legacy  bool
}

func mapCondition(c Condition) mapping {
	switch c.Status {
	case ConditionQueued:
		return mapping{status: StatusQueued, known: true}
	case ConditionProcessing:
		return mapping{status: StatusProcessing, known: true}
	case ConditionTimeout:
		return mapping{status: StatusTimeout, known: true}
	case ConditionError:
		msg := c.Error
		if msg == "" {
			msg = msgWorkerFailed
		}
		return mapping{status: StatusError, content: msg, known: true}
	case ConditionCompleted:
		return mapping{status: StatusCompleted, known: true}
	case ConditionRateLimited:
		msg := c.Error
		if msg == "" {
			msg = msgRateLimited
		}
		return mapping{status: StatusError, content: msg, known: true}
	case ConditionNone, ConditionDone:
		return mapping{legacy: true}
	default:
		return mapping{}
	}
}
