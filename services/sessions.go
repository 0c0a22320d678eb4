package services

import (
	"context"
	"fmt"
	"time"

	"handshake/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type SessionStore struct {
	Store *DynamoStore
}

// CreateSession is called by the Orchestrator exactly once per Challenge,
// at the moment it transitions to ACTIVE.
func (s *SessionStore) CreateSession(ctx context.Context, session models.Session) error {
	session.State = models.SessionStateActive
	session.StartedAt = time.Now().UTC()
	return s.Store.PutItem(ctx, models.SessionsTable, session)
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	key := map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: id},
	}
	item, err := s.Store.GetItem(ctx, models.SessionsTable, key)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := attributevalue.UnmarshalMap(item, &session); err != nil {
		return nil, fmt.Errorf("services: unmarshal session %q: %w", id, err)
	}
	return &session, nil
}

// GetSessionByChallenge looks up the one-to-one Session for a Challenge
// via the ChallengeIndex GSI.
func (s *SessionStore) GetSessionByChallenge(ctx context.Context, challengeID string) (*models.Session, error) {
	out, err := s.Store.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(models.SessionsTable),
		IndexName:              aws.String("ChallengeIndex"),
		KeyConditionExpression: aws.String("challengeId = :challengeId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":challengeId": &types.AttributeValueMemberS{Value: challengeID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	var session models.Session
	if err := attributevalue.UnmarshalMap(out[0], &session); err != nil {
		return nil, fmt.Errorf("services: unmarshal session for challenge %q: %w", challengeID, err)
	}
	return &session, nil
}

// EndSession writes the session's terminal state exactly once, guarded by
// the row still being ACTIVE.
func (s *SessionStore) EndSession(ctx context.Context, id, terminalState string, metadata map[string]interface{}) (*models.Session, error) {
	key := map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: id},
	}
	values := map[string]types.AttributeValue{
		":state":  &types.AttributeValueMemberS{Value: terminalState},
		":active": &types.AttributeValueMemberS{Value: models.SessionStateActive},
		":ended":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	update := "SET #state = :state, endedAt = :ended"
	names := map[string]string{"#state": "state"}
	if metadata != nil {
		av, err := attributevalue.MarshalMap(metadata)
		if err != nil {
			return nil, fmt.Errorf("services: marshal session metadata: %w", err)
		}
		values[":metadata"] = &types.AttributeValueMemberM{Value: av}
		update += ", metadata = :metadata"
	}

	attrs, err := s.Store.ConditionalUpdate(ctx, models.SessionsTable, key, update, "#state = :active", values, names)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := attributevalue.UnmarshalMap(attrs, &session); err != nil {
		return nil, fmt.Errorf("services: unmarshal ended session %q: %w", id, err)
	}
	return &session, nil
}

// ListActiveForUser returns every ACTIVE session userID participates in,
// found by scanning for sessions whose players list contains userID.
func (s *SessionStore) ListActiveForUser(ctx context.Context, userID string) ([]models.Session, error) {
	out, err := s.Store.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(models.SessionsTable),
		FilterExpression: aws.String("contains(players, :player) AND #state = :active"),
		ExpressionAttributeNames: map[string]string{
			"#state": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":player": &types.AttributeValueMemberS{Value: userID},
			":active": &types.AttributeValueMemberS{Value: models.SessionStateActive},
		},
	})
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	if err := attributevalue.UnmarshalListOfMaps(out, &sessions); err != nil {
		return nil, fmt.Errorf("services: unmarshal sessions for %q: %w", userID, err)
	}
	return sessions, nil
}
