// Package challenge implements the Challenge State Machine: the closed
// set of states and the guarded transitions between them from spec.md
// §4.7. It has no spontaneous transitions — every edge is driven by an
// explicit call from the orchestrator package.
package challenge

import "handshake/models"

// Table is the closed transition graph. Any (from, to) pair not present
// here is rejected regardless of caller.
var Table = map[string][]string{
	models.ChallengeStatePending:         {models.ChallengeStateNotifying, models.ChallengeStateExpired},
	models.ChallengeStateNotifying:       {models.ChallengeStateWaitingResponse},
	models.ChallengeStateWaitingResponse: {models.ChallengeStateActive, models.ChallengeStateDeclined, models.ChallengeStateTimeout},
	models.ChallengeStateActive:          {},
	models.ChallengeStateDeclined:        {},
	models.ChallengeStateTimeout:         {},
	models.ChallengeStateExpired:         {},
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to string) bool {
	for _, allowed := range Table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
