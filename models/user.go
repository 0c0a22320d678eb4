package models

import "time"

// User is the stable identity record. Account creation and password
// verification live in the auth package; this model only carries what the
// handshake core needs to read.
type User struct {
	UserID        string    `dynamodbav:"userId" json:"userId"`
	DisplayName   string    `dynamodbav:"displayName" json:"displayName"`
	ContactID     string    `dynamodbav:"contactId" json:"contactId"`
	PasswordHash  string    `dynamodbav:"passwordHash" json:"-"`
	PushTokens    []string  `dynamodbav:"pushTokens,stringset,omitempty" json:"-"`
	Active        bool      `dynamodbav:"active" json:"active"`
	CreatedAt     time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// UsersTable is the DynamoDB table name for user records, keyed by userId
// with a ContactIndex GSI on contactId that CreateUser and login use to
// enforce and look up the unique contact identifier.
const UsersTable = "Users"

func (User) TableName() string {
	return UsersTable
}
