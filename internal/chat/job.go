package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/suPer8Hu/momento/internal/store"
)

// Root paths of the shared store.
const (
	PromptsRoot      = "prompts"
	ConditionsRoot   = "promptcondition"
	ResultsRoot      = "results"
	UsersRoot        = "users"
	ServerStatusPath = "serverstatus"
)

func PromptPath(questionID string) string    { return store.Join(PromptsRoot, questionID) }
func ConditionPath(questionID string) string { return store.Join(ConditionsRoot, questionID) }
func ResultPath(questionID string) string    { return store.Join(ResultsRoot, questionID) }
func UserPath(uid string) string             { return store.Join(UsersRoot, uid) }

// Millis is a unix millisecond timestamp. It also decodes the RFC 3339
// strings some workers write.
type Millis int64

func MillisOf(t time.Time) Millis { return Millis(t.UnixMilli()) }

func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*m = MillisOf(t)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*m = Millis(f)
	return nil
}

// Prompt is the job record at prompts/{questionID}. It is written once.
type Prompt struct {
	QuestionID string `json:"questionID"`
	UserID     string `json:"userID"`
	Message    string `json:"message"`
	Timestamp  Millis `json:"timestamp"`
	Status     string `json:"status"`
}

// Condition is the worker's status report at promptcondition/{questionID}.
type Condition struct {
	QuestionID string          `json:"questionID,omitempty"`
	Status     ConditionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Timestamp  Millis          `json:"timestamp,omitempty"`
}

// Result is the worker's output at results/{questionID}. ProcessingTime is
// the worker-side duration in seconds.
type Result struct {
	QuestionID     string  `json:"questionID,omitempty"`
	Response       string  `json:"response"`
	ProcessingTime float64 `json:"processingTime"`
	Timestamp      Millis  `json:"timestamp"`
}

// User is the record at users/{uid}, always written whole.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	PromptCount int    `json:"promptCount"`
	LastReset   Millis `json:"lastReset"`
}

type ServerStatus struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	LastUpdate Millis `json:"lastUpdate"`
}
