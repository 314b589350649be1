package composite

import (
	"context"

	"github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/pkg/types"
)

// Store fans receipt appends out to the primary store and any mirrors.
// Queries are served by the primary only. The first error encountered is
// returned, but every store still sees the append: the audit trail must be
// as complete as each backend allows.
type Store struct {
	primary store.ReceiptStore
	mirrors []store.ReceiptStore
}

func New(primary store.ReceiptStore, mirrors ...store.ReceiptStore) *Store {
	return &Store{primary: primary, mirrors: mirrors}
}

func (s *Store) AppendReceipt(ctx context.Context, r types.Receipt) error {
	var firstErr error
	if err := s.primary.AppendReceipt(ctx, r); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, m := range s.mirrors {
		if err := m.AppendReceipt(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) QueryReceipts(ctx context.Context, q types.ReceiptQuery) ([]types.Receipt, error) {
	return s.primary.QueryReceipts(ctx, q)
}

func (s *Store) GetReceipt(ctx context.Context, receiptID string) (types.Receipt, error) {
	return s.primary.GetReceipt(ctx, receiptID)
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.primary.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
