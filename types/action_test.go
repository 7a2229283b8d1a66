package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepValidate(t *testing.T) {
	valid := []WorkflowStep{
		{Action: ActionClick, Target: 3},
		{Action: ActionNavigate, URL: "https://example.com"},
		{Action: ActionFillForm, Form: map[int]string{1: "hello"}},
		{Action: ActionWait, Wait: WaitNetworkIdle},
		{Action: ActionScroll},
		{Action: ActionType, Target: 2, Value: "query", OnError: OnErrorRetry, MaxRetries: 2},
	}
	for _, step := range valid {
		assert.NoError(t, step.Validate(), "step %+v", step)
	}

	invalid := []WorkflowStep{
		{Action: "teleport", Target: 1},
		{Action: ActionClick},                         // no target
		{Action: ActionNavigate},                      // no url
		{Action: ActionFillForm},                      // no fields
		{Action: ActionClick, Target: 1, MaxRetries: -1},
		{Action: ActionClick, Target: 1, OnError: "panic"},
	}
	for _, step := range invalid {
		err := step.Validate()
		require.Error(t, err, "step %+v", step)
		assert.True(t, IsCode(err, ErrInvalidStep))
	}
}

func TestTruncateSignature(t *testing.T) {
	assert.Equal(t, "short", TruncateSignature("short"))
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	got := TruncateSignature(string(long))
	assert.Len(t, got, SignatureMaxLen)
}
