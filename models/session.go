package models

import "time"

// Session is the post-handshake durable record representing an agreed-upon
// meeting between the two players. One-to-one with its owning Challenge.
type Session struct {
	SessionID   string                 `dynamodbav:"sessionId" json:"sessionId"`
	ChallengeID string                 `dynamodbav:"challengeId" json:"challengeId"`
	Players     []string               `dynamodbav:"players" json:"players"`
	State       string                 `dynamodbav:"state" json:"state"`
	StartedAt   time.Time              `dynamodbav:"startedAt" json:"startedAt"`
	EndedAt     *time.Time             `dynamodbav:"endedAt,omitempty" json:"endedAt,omitempty"`
	Metadata    map[string]interface{} `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
}

// SessionsTable is the DynamoDB table name for session records.
const SessionsTable = "Sessions"

func (Session) TableName() string {
	return SessionsTable
}

// OpponentOf returns the player id opposite the given one, or "" if userID
// is not a participant.
func (s Session) OpponentOf(userID string) string {
	participant := false
	opponent := ""
	for _, p := range s.Players {
		if p == userID {
			participant = true
		} else if opponent == "" {
			opponent = p
		}
	}
	if !participant {
		return ""
	}
	return opponent
}
