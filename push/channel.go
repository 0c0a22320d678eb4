// Package push fans a wake-up payload out to every device token on a
// user's account via the out-of-band push vendor. Grounded on the
// teacher's ScanWithFilter/BatchWriteItems pattern of looping per-item
// vendor calls and collecting the failures, but applied to push tokens
// instead of DynamoDB rows.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Payload is the fixed wake-up notification shape from spec.md §6.
type Payload struct {
	ChallengeID string `json:"challengeId"`
	Event       string `json:"event"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// VendorResult is what the vendor API returns per token.
type VendorResult string

const (
	VendorOK           VendorResult = "OK"
	VendorInvalid      VendorResult = "INVALID"
	VendorUnregistered VendorResult = "UNREGISTERED"
	VendorTransient    VendorResult = "TRANSIENT_FAILURE"
)

// Vendor is the out-of-band push delivery API; §1 names its concrete
// implementation out of scope for the core.
type Vendor interface {
	Deliver(ctx context.Context, token string, payload Payload) (VendorResult, error)
}

// TokenStore is the subset of the durable record store the Push Channel
// needs: reading and pruning a user's token list. Kept as a narrow
// capability interface so push never depends on the whole store package.
type TokenStore interface {
	PushTokens(ctx context.Context, userID string) ([]string, error)
	RemovePushToken(ctx context.Context, userID, token string) error
}

type Channel struct {
	vendor  Vendor
	tokens  TokenStore
	log     *zap.Logger
	enabled bool
}

// New constructs a Channel. If vendor is nil the channel is disabled: it
// logs and returns false on Send without ever failing the caller, per
// spec.md §4.4's "degrades gracefully if the vendor is unconfigured".
func New(vendor Vendor, tokens TokenStore, log *zap.Logger) *Channel {
	return &Channel{vendor: vendor, tokens: tokens, log: log, enabled: vendor != nil}
}

// Send delivers payload to every token on userID's account. It returns
// true iff at least one delivery succeeded, and never returns an error —
// partial and total push failure are both logged, not propagated, so a
// vendor outage can never block the handshake state machine.
func (c *Channel) Send(ctx context.Context, userID string, payload Payload) bool {
	if !c.enabled {
		c.log.Info("push channel disabled, skipping send", zap.String("userId", userID))
		return false
	}

	tokens, err := c.tokens.PushTokens(ctx, userID)
	if err != nil {
		c.log.Warn("push: failed to load tokens", zap.String("userId", userID), zap.Error(err))
		return false
	}

	anySucceeded := false
	for _, token := range tokens {
		result, err := c.vendor.Deliver(ctx, token, payload)
		if err != nil {
			c.log.Warn("push: vendor delivery error", zap.String("userId", userID), zap.Error(err))
			continue
		}
		switch result {
		case VendorOK:
			anySucceeded = true
		case VendorInvalid, VendorUnregistered:
			if rmErr := c.tokens.RemovePushToken(ctx, userID, token); rmErr != nil {
				c.log.Warn("push: failed to prune dead token", zap.String("userId", userID), zap.Error(rmErr))
			}
		case VendorTransient:
			// leave the token in place; a later send may succeed.
		}
	}
	return anySucceeded
}

// PruneDeadTokens independently re-validates every token on userID's
// account against the vendor and removes the ones it rejects, without
// sending a real notification. Exposed separately from Send so a
// maintenance job can sweep dead tokens without user-visible noise.
func (c *Channel) PruneDeadTokens(ctx context.Context, userID string) (pruned int, err error) {
	if !c.enabled {
		return 0, nil
	}
	tokens, err := c.tokens.PushTokens(ctx, userID)
	if err != nil {
		return 0, err
	}
	probe := Payload{Event: "presence-probe"}
	for _, token := range tokens {
		result, derr := c.vendor.Deliver(ctx, token, probe)
		if derr != nil {
			continue
		}
		if result == VendorInvalid || result == VendorUnregistered {
			if err := c.tokens.RemovePushToken(ctx, userID, token); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
