package models

import "time"

// Challenge is the offer from one user (the challenger) to another (the
// challenged) to begin a shared session. Mutated only under its
// per-challenge lock; see challenge.Table for the transition guard.
type Challenge struct {
	ChallengeID   string                 `dynamodbav:"challengeId" json:"challengeId"`
	ChallengerID  string                 `dynamodbav:"challengerId" json:"challengerId"`
	ChallengedID  string                 `dynamodbav:"challengedId" json:"challengedId"`
	GameType      string                 `dynamodbav:"gameType" json:"gameType"`
	State         string                 `dynamodbav:"state" json:"state"`
	ExpiresAt     time.Time              `dynamodbav:"expiresAt" json:"expiresAt"`
	Attempts      int                    `dynamodbav:"attempts" json:"attempts"`
	LastAttemptAt *time.Time             `dynamodbav:"lastAttemptAt,omitempty" json:"lastAttemptAt,omitempty"`
	Metadata      map[string]interface{} `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt     time.Time              `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time              `dynamodbav:"updatedAt" json:"updatedAt"`
}

// ChallengesTable is the DynamoDB table name for challenge records.
const ChallengesTable = "Challenges"

func (Challenge) TableName() string {
	return ChallengesTable
}

// LockKey returns the shared-store key guarding this challenge's
// transitions, per spec §6 key namespace `lock:challenge:{id}`.
func (c Challenge) LockKey() string {
	return "lock:challenge:" + c.ChallengeID
}
