package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWakeUpResponse(t *testing.T) {
	resp, ok := ParseWakeUpResponse("ACCEPT")
	assert.True(t, ok)
	assert.Equal(t, ResponseAccept, resp)

	resp, ok = ParseWakeUpResponse("DECLINE")
	assert.True(t, ok)
	assert.Equal(t, ResponseDecline, resp)

	_, ok = ParseWakeUpResponse("MAYBE")
	assert.False(t, ok)

	_, ok = ParseWakeUpResponse("")
	assert.False(t, ok)
}

func TestIsTerminalChallengeState(t *testing.T) {
	for _, s := range []string{ChallengeStateActive, ChallengeStateDeclined, ChallengeStateTimeout, ChallengeStateExpired} {
		assert.True(t, IsTerminalChallengeState(s), s)
	}
	for _, s := range []string{ChallengeStatePending, ChallengeStateNotifying, ChallengeStateWaitingResponse} {
		assert.False(t, IsTerminalChallengeState(s), s)
	}
}
