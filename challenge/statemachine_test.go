package challenge

import (
	"testing"

	"handshake/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_AllowedEdges(t *testing.T) {
	cases := []struct {
		from, to string
	}{
		{models.ChallengeStatePending, models.ChallengeStateNotifying},
		{models.ChallengeStatePending, models.ChallengeStateExpired},
		{models.ChallengeStateNotifying, models.ChallengeStateWaitingResponse},
		{models.ChallengeStateWaitingResponse, models.ChallengeStateActive},
		{models.ChallengeStateWaitingResponse, models.ChallengeStateDeclined},
		{models.ChallengeStateWaitingResponse, models.ChallengeStateTimeout},
	}
	for _, c := range cases {
		assert.True(t, CanTransition(c.from, c.to), "%s -> %s should be allowed", c.from, c.to)
	}
}

func TestCanTransition_RejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from, to string
	}{
		{models.ChallengeStatePending, models.ChallengeStateActive},
		{models.ChallengeStatePending, models.ChallengeStateWaitingResponse},
		{models.ChallengeStateNotifying, models.ChallengeStateDeclined},
		{models.ChallengeStateActive, models.ChallengeStateDeclined},
		{models.ChallengeStateDeclined, models.ChallengeStatePending},
		{models.ChallengeStateTimeout, models.ChallengeStateWaitingResponse},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s should be rejected", c.from, c.to)
	}
}

func TestCanTransition_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, state := range []string{
		models.ChallengeStateActive,
		models.ChallengeStateDeclined,
		models.ChallengeStateTimeout,
		models.ChallengeStateExpired,
	} {
		assert.Empty(t, Table[state], "%s should be terminal", state)
	}
}

func TestCanTransition_UnknownStateRejectsEverything(t *testing.T) {
	assert.False(t, CanTransition("NOT_A_STATE", models.ChallengeStateNotifying))
}
