package push

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTokenStore struct {
	tokens  map[string][]string
	removed []string
}

func newFakeTokenStore(tokens map[string][]string) *fakeTokenStore {
	return &fakeTokenStore{tokens: tokens}
}

func (f *fakeTokenStore) PushTokens(_ context.Context, userID string) ([]string, error) {
	return f.tokens[userID], nil
}

func (f *fakeTokenStore) RemovePushToken(_ context.Context, userID, token string) error {
	f.removed = append(f.removed, token)
	var kept []string
	for _, t := range f.tokens[userID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	f.tokens[userID] = kept
	return nil
}

type scriptedVendor struct {
	results map[string]VendorResult
}

func (v *scriptedVendor) Deliver(_ context.Context, token string, _ Payload) (VendorResult, error) {
	return v.results[token], nil
}

func TestChannel_Send_NoVendorConfiguredReturnsFalseWithoutError(t *testing.T) {
	log := zap.NewNop()
	c := New(nil, newFakeTokenStore(nil), log)
	sent := c.Send(context.Background(), "u1", Payload{Event: "challenge:wake-up"})
	assert.False(t, sent)
}

func TestChannel_Send_PrunesDeadTokensAndSucceedsOnAnyDelivery(t *testing.T) {
	log := zap.NewNop()
	tokens := newFakeTokenStore(map[string][]string{"u1": {"good", "stale", "bad"}})
	vendor := &scriptedVendor{results: map[string]VendorResult{
		"good":  VendorOK,
		"stale": VendorUnregistered,
		"bad":   VendorInvalid,
	}}
	c := New(vendor, tokens, log)

	sent := c.Send(context.Background(), "u1", Payload{Event: "challenge:wake-up"})

	require.True(t, sent)
	assert.ElementsMatch(t, []string{"stale", "bad"}, tokens.removed)
	assert.Equal(t, []string{"good"}, tokens.tokens["u1"])
}

func TestChannel_Send_AllTransientLeavesTokensInPlaceAndReturnsFalse(t *testing.T) {
	log := zap.NewNop()
	tokens := newFakeTokenStore(map[string][]string{"u1": {"flaky"}})
	vendor := &scriptedVendor{results: map[string]VendorResult{"flaky": VendorTransient}}
	c := New(vendor, tokens, log)

	sent := c.Send(context.Background(), "u1", Payload{Event: "challenge:wake-up"})

	assert.False(t, sent)
	assert.Empty(t, tokens.removed)
	assert.Equal(t, []string{"flaky"}, tokens.tokens["u1"])
}

func TestChannel_PruneDeadTokens_RemovesOnlyRejected(t *testing.T) {
	log := zap.NewNop()
	tokens := newFakeTokenStore(map[string][]string{"u1": {"good", "bad"}})
	vendor := &scriptedVendor{results: map[string]VendorResult{"good": VendorOK, "bad": VendorInvalid}}
	c := New(vendor, tokens, log)

	pruned, err := c.PruneDeadTokens(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, []string{"good"}, tokens.tokens["u1"])
}
