// Package confirm owns the lifecycle of confirmation tokens: issued for
// conditionally destructive operations, consumed exactly once on successful
// validation, or expired silently after the configured TTL.
package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/pkg/types"
)

// Ledger issues and validates single-use confirmation tokens. All state
// lives in the token store; the ledger itself is stateless and safe for
// concurrent use.
type Ledger struct {
	tokens store.TokenStore
	ttl    time.Duration
	now    func() time.Time
}

func New(tokens store.TokenStore, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Ledger{tokens: tokens, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// TTL returns the configured token lifetime.
func (l *Ledger) TTL() time.Duration { return l.ttl }

// Issue creates a token bound to one specific proposed operation.
func (l *Ledger) Issue(ctx context.Context, tool string, args map[string]any, preview string) (types.ConfirmationToken, error) {
	argsJSON, err := CanonicalArgs(args)
	if err != nil {
		return types.ConfirmationToken{}, err
	}
	now := l.now()
	tok := types.ConfirmationToken{
		TokenID:   uuid.NewString(),
		Tool:      tool,
		ArgsJSON:  argsJSON,
		Preview:   preview,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.tokens.InsertToken(ctx, tok); err != nil {
		return types.ConfirmationToken{}, err
	}
	return tok, nil
}

// Validation reports whether a token authorized the resubmitted call.
// Reason is a machine-checkable string suitable for a receipt.
type Validation struct {
	OK      bool
	Reason  string
	Preview string
}

// Validate consumes the token iff it is live, unused and bound to the same
// tool and argument snapshot. Expired rows are purged lazily first. The
// check-and-mark is delegated to the store, where it is a single atomic
// step.
func (l *Ledger) Validate(ctx context.Context, tokenID, tool string, args map[string]any) (Validation, error) {
	argsJSON, err := CanonicalArgs(args)
	if err != nil {
		return Validation{}, err
	}
	now := l.now()
	if _, err := l.tokens.PurgeExpiredTokens(ctx, now); err != nil {
		return Validation{}, err
	}
	res, err := l.tokens.ConsumeToken(ctx, tokenID, tool, argsJSON, now)
	if err != nil {
		return Validation{}, err
	}
	switch res.Outcome {
	case store.TokenConsumed:
		return Validation{OK: true, Reason: "confirmed", Preview: res.Preview}, nil
	case store.TokenToolMismatch:
		return Validation{Reason: "token_tool_mismatch"}, nil
	case store.TokenArgsMismatch:
		return Validation{Reason: "token_args_mismatch"}, nil
	default:
		// not_found, expired and already_used are indistinguishable to the
		// caller on purpose: the token is simply no longer valid.
		return Validation{Reason: "invalid_token"}, nil
	}
}

// ListPending returns live, unused tokens for the operator surface.
func (l *Ledger) ListPending(ctx context.Context) ([]types.ConfirmationToken, error) {
	return l.tokens.ListPendingTokens(ctx, l.now())
}

// CanonicalArgs serializes an argument map to its canonical JSON form
// (object keys sorted), so that equivalent argument maps always compare
// equal between issue and validate.
func CanonicalArgs(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(b), nil
}
