package chat

import (
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

const questionSuffixLen = 8

// NewQuestionID formats t as HH:MM:SS:mmm and appends a short random
// suffix taken from a ULID's entropy. A nil entropy reader uses ulid's
// default source.
//
// The suffix makes collisions unlikely, not impossible; the prompt record is
// created only if absent, so a collision fails the submission instead of
// overwriting another job.
func NewQuestionID(t time.Time, entropy io.Reader) (string, error) {
	if entropy == nil {
		entropy = ulid.DefaultEntropy()
	}
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", fmt.Errorf("question id: %w", err)
	}
	s := id.String()
	return TimePrefix(t) + "-" + s[len(s)-questionSuffixLen:], nil
}

// TimePrefix is the zero-padded time-of-day part of a question id.
func TimePrefix(t time.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d:%03d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}
