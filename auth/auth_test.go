package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndResolveUser_RoundTrips(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.Mint("user-123")
	require.NoError(t, err)

	userID, err := svc.ResolveUser(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestResolveUser_RejectsEmptyToken(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	_, err := svc.ResolveUser(context.Background(), "")
	assert.Error(t, err)
}

func TestResolveUser_RejectsTokenSignedWithAnotherSecret(t *testing.T) {
	signed := NewTokenService("secret-a", time.Hour)
	verifying := NewTokenService("secret-b", time.Hour)

	token, err := signed.Mint("user-123")
	require.NoError(t, err)

	_, err = verifying.ResolveUser(context.Background(), token)
	assert.Error(t, err)
}

func TestResolveUser_RejectsExpiredToken(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Hour)
	token, err := svc.Mint("user-123")
	require.NoError(t, err)

	_, err = svc.ResolveUser(context.Background(), token)
	assert.Error(t, err)
}

func TestHashPassword_CheckPassword_RoundTrips(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "correct-horse-battery-staple"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
}
