package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCondition(t *testing.T) {
	cases := []struct {
		in      Condition
		status  LifecycleStatus
		content string
		known   bool
	}{
		{Condition{Status: ConditionQueued}, StatusQueued, "", true},
		{Condition{Status: ConditionProcessing}, StatusProcessing, "", true},
		{Condition{Status: ConditionTimeout}, StatusTimeout, "", true},
		{Condition{Status: ConditionError, Error: "model crashed"}, StatusError, "model crashed", true},
		{Condition{Status: ConditionError}, StatusError, "Something went wrong. Please try again.", true},
		{Condition{Status: ConditionCompleted}, StatusCompleted, "", true},
		{Condition{Status: ConditionRateLimited, Error: "slow down"}, StatusError, "slow down", true},
		{Condition{Status: ConditionRateLimited}, StatusError, "Rate limit exceeded. Please try again later.", true},
		{Condition{Status: ConditionNone}, "", "", false},
		{Condition{Status: ConditionDone}, "", "", false},
		{Condition{Status: "weird"}, "", "", false},
		{Condition{}, "", "", false},
	}
	for _, tc := range cases {
		t.Run(string(tc.in.Status), func(t *testing.T) {
			m := mapCondition(tc.in)
			assert.Equal(t, tc.status, m.status)
			assert.Equal(t, tc.content, m.content)
			assert.Equal(t, tc.known, m.known)
		})
	}
}

func TestTerminalVocabulary(t *testing.T) {
	for _, s := range []ConditionStatus{ConditionCompleted, ConditionTimeout, ConditionError, ConditionRateLimited} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []ConditionStatus{ConditionQueued, ConditionProcessing, ConditionNone, ConditionDone} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StatusTimeout.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}
