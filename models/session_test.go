package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_OpponentOf(t *testing.T) {
	s := Session{Players: []string{"alice", "bob"}}
	assert.Equal(t, "bob", s.OpponentOf("alice"))
	assert.Equal(t, "alice", s.OpponentOf("bob"))
	assert.Equal(t, "", s.OpponentOf("carol"))
}

func TestChallenge_LockKey(t *testing.T) {
	c := Challenge{ChallengeID: "c-1"}
	assert.Equal(t, "lock:challenge:c-1", c.LockKey())
}
