package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsgate/opsgate/pkg/types"
)

// ErrReceiptNotFound is returned by GetReceipt when no receipt exists for
// the given id.
var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptStore is the append-only audit ledger. AppendReceipt is the only
// write path; receipts are never updated or deleted.
type ReceiptStore interface {
	AppendReceipt(ctx context.Context, r types.Receipt) error
	QueryReceipts(ctx context.Context, q types.ReceiptQuery) ([]types.Receipt, error)
	GetReceipt(ctx context.Context, receiptID string) (types.Receipt, error)
	Close() error
}

// TokenOutcome classifies the result of a consume attempt.
type TokenOutcome string

const (
	TokenConsumed     TokenOutcome = "consumed"
	TokenNotFound     TokenOutcome = "not_found"
	TokenExpired      TokenOutcome = "expired"
	TokenAlreadyUsed  TokenOutcome = "already_used"
	TokenToolMismatch TokenOutcome = "tool_mismatch"
	TokenArgsMismatch TokenOutcome = "args_mismatch"
)

// TokenConsume reports the outcome of ConsumeToken. Preview is populated
// only when the token was consumed.
type TokenConsume struct {
	Outcome TokenOutcome
	Preview string
}

// TokenStore persists confirmation tokens. ConsumeToken must be atomic:
// two concurrent consume attempts for the same token must not both
// succeed.
type TokenStore interface {
	InsertToken(ctx context.Context, tok types.ConfirmationToken) error
	ConsumeToken(ctx context.Context, tokenID, tool, argsJSON string, now time.Time) (TokenConsume, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	ListPendingTokens(ctx context.Context, now time.Time) ([]types.ConfirmationToken, error)
}
