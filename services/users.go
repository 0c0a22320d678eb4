package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"handshake/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrDuplicateContact is returned by CreateUser when contactId is already
// registered; spec.md §3 requires displayName and contactId be unique,
// and spec.md §6 documents 409 on duplicate registration.
var ErrDuplicateContact = errors.New("services: contact id already registered")

type UserStore struct {
	Store *DynamoStore
}

// CreateUser rejects a contactId already in use, checked via the
// ContactIndex GSI ahead of the write. This narrows, but per spec.md's own
// suggested remedy does not eliminate, the race between two concurrent
// registrations of the same contactId; the record store has no
// unique-secondary-index primitive to make the check atomic with the
// write.
func (s *UserStore) CreateUser(ctx context.Context, user models.User) error {
	existing, err := s.FindByContactID(ctx, user.ContactID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateContact
	}

	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	user.Active = true
	return s.Store.PutItem(ctx, models.UsersTable, user)
}

// FindByContactID looks up a user by contactId via the ContactIndex GSI,
// returning (nil, nil) when no user has that contact id.
func (s *UserStore) FindByContactID(ctx context.Context, contactID string) (*models.User, error) {
	out, err := s.Store.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(models.UsersTable),
		IndexName:              aws.String("ContactIndex"),
		KeyConditionExpression: aws.String("contactId = :contactId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":contactId": &types.AttributeValueMemberS{Value: contactID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	var user models.User
	if err := attributevalue.UnmarshalMap(out[0], &user); err != nil {
		return nil, fmt.Errorf("services: unmarshal user for contact %q: %w", contactID, err)
	}
	return &user, nil
}

// DisplayNameFor satisfies hub.UsernameLookup, used to fill out the
// `connected` live-channel envelope.
func (s *UserStore) DisplayNameFor(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.DisplayName, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	key := map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
	item, err := s.Store.GetItem(ctx, models.UsersTable, key)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := attributevalue.UnmarshalMap(item, &user); err != nil {
		return nil, fmt.Errorf("services: unmarshal user %q: %w", userID, err)
	}
	return &user, nil
}

// PushTokens satisfies push.TokenStore.
func (s *UserStore) PushTokens(ctx context.Context, userID string) ([]string, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.PushTokens, nil
}

// AddPushToken adds token to the user's token set, tolerating concurrent
// readers by using a string-set ADD (no duplicate add).
func (s *UserStore) AddPushToken(ctx context.Context, userID, token string) error {
	key := map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
	// DynamoDB string sets reject duplicate members automatically, so a
	// plain ADD is idempotent: registering the same token twice leaves
	// the set unchanged.
	_, err := s.Store.ConditionalUpdate(ctx, models.UsersTable, key,
		"SET updatedAt = :updatedAt ADD pushTokens :token",
		"",
		map[string]types.AttributeValue{
			":token":     &types.AttributeValueMemberSS{Value: []string{token}},
			":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		nil,
	)
	return err
}

// RemovePushToken satisfies push.TokenStore, removing a single dead token.
func (s *UserStore) RemovePushToken(ctx context.Context, userID, token string) error {
	key := map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
	_, err := s.Store.ConditionalUpdate(ctx, models.UsersTable, key,
		"DELETE pushTokens :token",
		"",
		map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberSS{Value: []string{token}},
		},
		nil,
	)
	return err
}

// ListUsers returns every user record, active or not; used by GET /users alongside a
// presence snapshot per spec.md §6.
func (s *UserStore) ListUsers(ctx context.Context) ([]models.User, error) {
	items, err := s.Store.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(models.UsersTable),
	})
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := attributevalue.UnmarshalListOfMaps(items, &users); err != nil {
		return nil, fmt.Errorf("services: unmarshal users: %w", err)
	}
	return users, nil
}

// UserSummary is the caller-facing projection of models.User with the
// password hash stripped; controllers never return PasswordHash.
type UserSummary struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	ContactID   string    `json:"contactId"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

func ToSummary(u models.User) UserSummary {
	return UserSummary{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		ContactID:   u.ContactID,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}
