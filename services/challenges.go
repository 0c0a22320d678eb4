package services

import (
	"context"
	"fmt"
	"time"

	"handshake/challenge"
	"handshake/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ChallengeStore is the only place that writes the Challenge.State
// column; every write goes through ConditionalUpdate so a buggy caller
// can never effect a transition the closed table in package challenge
// would reject — the transition table is the state machine's guard, this
// is its enforcement at the storage layer.
type ChallengeStore struct {
	Store *DynamoStore
}

func (s *ChallengeStore) CreateChallenge(ctx context.Context, c models.Challenge) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Attempts = 0
	c.State = models.ChallengeStatePending
	return s.Store.PutItem(ctx, models.ChallengesTable, c)
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	key := map[string]types.AttributeValue{
		"challengeId": &types.AttributeValueMemberS{Value: id},
	}
	item, err := s.Store.GetItem(ctx, models.ChallengesTable, key)
	if err != nil {
		return nil, err
	}
	var c models.Challenge
	if err := attributevalue.UnmarshalMap(item, &c); err != nil {
		return nil, fmt.Errorf("services: unmarshal challenge %q: %w", id, err)
	}
	return &c, nil
}

// ListPendingForUser returns the challenges where userID is the
// challenged party and the state is still PENDING, via the
// ChallengedIndex GSI.
func (s *ChallengeStore) ListPendingForUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	out, err := s.Store.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(models.ChallengesTable),
		IndexName:              aws.String("ChallengedIndex"),
		KeyConditionExpression: aws.String("challengedId = :challengedId"),
		FilterExpression:       aws.String("#state = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#state": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":challengedId": &types.AttributeValueMemberS{Value: userID},
			":pending":      &types.AttributeValueMemberS{Value: models.ChallengeStatePending},
		},
	})
	if err != nil {
		return nil, err
	}
	return unmarshalChallenges(out)
}

// ListSentByUser returns the still-open challenges userID created, the
// symmetric counterpart to ListPendingForUser supplementing the spec's
// invite-listing pair.
func (s *ChallengeStore) ListSentByUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	out, err := s.Store.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(models.ChallengesTable),
		IndexName:              aws.String("ChallengerIndex"),
		KeyConditionExpression: aws.String("challengerId = :challengerId"),
		FilterExpression:       aws.String("#state IN (:pending, :notifying, :waiting)"),
		ExpressionAttributeNames: map[string]string{
			"#state": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":challengerId": &types.AttributeValueMemberS{Value: userID},
			":pending":      &types.AttributeValueMemberS{Value: models.ChallengeStatePending},
			":notifying":    &types.AttributeValueMemberS{Value: models.ChallengeStateNotifying},
			":waiting":      &types.AttributeValueMemberS{Value: models.ChallengeStateWaitingResponse},
		},
	})
	if err != nil {
		return nil, err
	}
	return unmarshalChallenges(out)
}

func unmarshalChallenges(items []map[string]types.AttributeValue) ([]models.Challenge, error) {
	var challenges []models.Challenge
	if err := attributevalue.UnmarshalListOfMaps(items, &challenges); err != nil {
		return nil, fmt.Errorf("services: unmarshal challenges: %w", err)
	}
	return challenges, nil
}

// UpdateChallengeState performs the single guarded write of the state
// column: it only succeeds if the row's current state is fromState,
// collapsing any double-transition race into ErrConditionFailed.
func (s *ChallengeStore) UpdateChallengeState(ctx context.Context, id, fromState, toState string) (*models.Challenge, error) {
	if !challenge.CanTransition(fromState, toState) {
		return nil, fmt.Errorf("services: %s -> %s is not a permitted transition", fromState, toState)
	}
	key := map[string]types.AttributeValue{
		"challengeId": &types.AttributeValueMemberS{Value: id},
	}
	attrs, err := s.Store.ConditionalUpdate(ctx, models.ChallengesTable, key,
		"SET #state = :to, updatedAt = :now",
		"#state = :from",
		map[string]types.AttributeValue{
			":to":   &types.AttributeValueMemberS{Value: toState},
			":from": &types.AttributeValueMemberS{Value: fromState},
			":now":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		map[string]string{"#state": "state"},
	)
	if err != nil {
		return nil, err
	}
	var c models.Challenge
	if err := attributevalue.UnmarshalMap(attrs, &c); err != nil {
		return nil, fmt.Errorf("services: unmarshal updated challenge %q: %w", id, err)
	}
	return &c, nil
}

// IncrementAttempt bumps the attempt counter and stamps lastAttemptAt,
// guarded so it never exceeds maxAttempts (spec.md §3 invariant).
func (s *ChallengeStore) IncrementAttempt(ctx context.Context, id string, maxAttempts int) (*models.Challenge, error) {
	key := map[string]types.AttributeValue{
		"challengeId": &types.AttributeValueMemberS{Value: id},
	}
	now := time.Now().UTC().Format(time.RFC3339)
	attrs, err := s.Store.ConditionalUpdate(ctx, models.ChallengesTable, key,
		"SET attempts = attempts + :one, lastAttemptAt = :now, updatedAt = :now",
		"attempts < :max",
		map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now":  &types.AttributeValueMemberS{Value: now},
			":max": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", maxAttempts)},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}
	var c models.Challenge
	if err := attributevalue.UnmarshalMap(attrs, &c); err != nil {
		return nil, fmt.Errorf("services: unmarshal challenge %q after increment: %w", id, err)
	}
	return &c, nil
}

// MarkExpired transitions every PENDING challenge whose expiresAt has
// passed to EXPIRED. It runs outside any per-challenge lock; the
// row-level WHERE-equivalent condition excludes any challenge a
// concurrent InitiateHandshake has already moved to NOTIFYING, per
// spec.md §4.8.
func (s *ChallengeStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.Store.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(models.ChallengesTable),
		FilterExpression: aws.String("#state = :pending AND expiresAt < :now"),
		ExpressionAttributeNames: map[string]string{
			"#state": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: models.ChallengeStatePending},
			":now":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return 0, err
	}
	candidateChallenges, err := unmarshalChallenges(candidates)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range candidateChallenges {
		_, err := s.UpdateChallengeState(ctx, c.ChallengeID, models.ChallengeStatePending, models.ChallengeStateExpired)
		if err == ErrConditionFailed {
			continue // lost the race to InitiateHandshake; not an error
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// DeleteTerminalOlderThan prunes terminal challenges whose last update is
// older than the retention window.
func (s *ChallengeStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := s.Store.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(models.ChallengesTable),
		FilterExpression: aws.String("updatedAt < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberS{Value: cutoff.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return 0, err
	}
	challenges, err := unmarshalChallenges(candidates)
	if err != nil {
		return 0, err
	}

	var keys []map[string]types.AttributeValue
	for _, c := range challenges {
		if !models.IsTerminalChallengeState(c.State) {
			continue
		}
		keys = append(keys, map[string]types.AttributeValue{
			"challengeId": &types.AttributeValueMemberS{Value: c.ChallengeID},
		})
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.Store.BatchDelete(ctx, models.ChallengesTable, keys)
}
