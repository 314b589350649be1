package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/pkg/types"
	_ "modernc.org/sqlite"
)

// Store is the primary SQLite-backed receipt and token store. A single
// writer connection serializes the token check-and-mark step.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS receipts (
			receipt_id TEXT PRIMARY KEY,
			ts_unix_ns INTEGER NOT NULL,
			tool TEXT NOT NULL,
			decision TEXT NOT NULL,
			result TEXT NOT NULL,
			undone_receipt_id TEXT,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_ts ON receipts(ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_tool_ts ON receipts(tool, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_decision_ts ON receipts(decision, ts_unix_ns);`,
		`CREATE TABLE IF NOT EXISTS confirmation_tokens (
			token_id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			args_json TEXT NOT NULL,
			preview TEXT,
			created_ts_unix_ns INTEGER NOT NULL,
			expires_ts_unix_ns INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON confirmation_tokens(expires_ts_unix_ns);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendReceipt(ctx context.Context, r types.Receipt) error {
	if r.ReceiptID == "" {
		return fmt.Errorf("receipt missing id")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts(
			receipt_id, ts_unix_ns, tool, decision, result, undone_receipt_id, payload_json
		) VALUES(?,?,?,?,?,?,?);`,
		r.ReceiptID,
		r.Timestamp.UTC().UnixNano(),
		r.Tool,
		string(r.Decision),
		string(r.Result),
		nullable(r.UndoneReceiptID),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *Store) QueryReceipts(ctx context.Context, q types.ReceiptQuery) ([]types.Receipt, error) {
	where := []string{"1=1"}
	var args []any

	if q.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, q.Tool)
	}
	if q.Decision != nil {
		where = append(where, "decision = ?")
		args = append(args, string(*q.Decision))
	}
	if q.Result != nil {
		where = append(where, "result = ?")
		args = append(args, string(*q.Result))
	}
	if q.Since != nil {
		where = append(where, "ts_unix_ns >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if q.Until != nil {
		where = append(where, "ts_unix_ns <= ?")
		args = append(args, q.Until.UTC().UnixNano())
	}

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM receipts WHERE `+strings.Join(where, " AND ")+` ORDER BY ts_unix_ns DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []types.Receipt
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		var r types.Receipt
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query receipts rows: %w", err)
	}
	return out, nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptID string) (types.Receipt, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM receipts WHERE receipt_id = ?`, receiptID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.Receipt{}, store.ErrReceiptNotFound
	}
	if err != nil {
		return types.Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	var r types.Receipt
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return types.Receipt{}, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return r, nil
}

func (s *Store) InsertToken(ctx context.Context, tok types.ConfirmationToken) error {
	if tok.TokenID == "" {
		return fmt.Errorf("token missing id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO confirmation_tokens(
			token_id, tool, args_json, preview, created_ts_unix_ns, expires_ts_unix_ns, used
		) VALUES(?,?,?,?,?,?,0);`,
		tok.TokenID,
		tok.Tool,
		tok.ArgsJSON,
		nullable(tok.Preview),
		tok.CreatedAt.UTC().UnixNano(),
		tok.ExpiresAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// ConsumeToken marks the token used iff it is unused, unexpired and bound
// to the same tool and argument snapshot. The check and the mark are one
// UPDATE statement on a single-writer connection, so two concurrent
// redemptions of the same token cannot both succeed. A failed update is
// classified afterwards purely for the caller's reason string; the token
// row is left untouched in every failure case.
func (s *Store) ConsumeToken(ctx context.Context, tokenID, tool, argsJSON string, now time.Time) (store.TokenConsume, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE confirmation_tokens
		SET used = 1
		WHERE token_id = ? AND used = 0 AND expires_ts_unix_ns > ? AND tool = ? AND args_json = ?;`,
		tokenID, now.UTC().UnixNano(), tool, argsJSON,
	)
	if err != nil {
		return store.TokenConsume{}, fmt.Errorf("consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.TokenConsume{}, fmt.Errorf("consume token rows: %w", err)
	}
	if n == 1 {
		var preview sql.NullString
		_ = s.db.QueryRowContext(ctx,
			`SELECT preview FROM confirmation_tokens WHERE token_id = ?`, tokenID,
		).Scan(&preview)
		return store.TokenConsume{Outcome: store.TokenConsumed, Preview: preview.String}, nil
	}
	return s.classifyConsumeFailure(ctx, tokenID, tool, argsJSON, now)
}

func (s *Store) classifyConsumeFailure(ctx context.Context, tokenID, tool, argsJSON string, now time.Time) (store.TokenConsume, error) {
	var rowTool, rowArgs string
	var used int
	var expiresNs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tool, args_json, used, expires_ts_unix_ns FROM confirmation_tokens WHERE token_id = ?`, tokenID,
	).Scan(&rowTool, &rowArgs, &used, &expiresNs)
	if err == sql.ErrNoRows {
		return store.TokenConsume{Outcome: store.TokenNotFound}, nil
	}
	if err != nil {
		return store.TokenConsume{}, fmt.Errorf("classify token: %w", err)
	}
	switch {
	case used != 0:
		return store.TokenConsume{Outcome: store.TokenAlreadyUsed}, nil
	case expiresNs <= now.UTC().UnixNano():
		return store.TokenConsume{Outcome: store.TokenExpired}, nil
	case rowTool != tool:
		return store.TokenConsume{Outcome: store.TokenToolMismatch}, nil
	default:
		return store.TokenConsume{Outcome: store.TokenArgsMismatch}, nil
	}
}

func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM confirmation_tokens WHERE expires_ts_unix_ns <= ?;`, now.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) ListPendingTokens(ctx context.Context, now time.Time) ([]types.ConfirmationToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, tool, args_json, preview, created_ts_unix_ns, expires_ts_unix_ns
		FROM confirmation_tokens
		WHERE used = 0 AND expires_ts_unix_ns > ?
		ORDER BY created_ts_unix_ns DESC;`,
		now.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []types.ConfirmationToken
	for rows.Next() {
		var tok types.ConfirmationToken
		var preview sql.NullString
		var createdNs, expiresNs int64
		if err := rows.Scan(&tok.TokenID, &tok.Tool, &tok.ArgsJSON, &preview, &createdNs, &expiresNs); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tok.Preview = preview.String
		tok.CreatedAt = time.Unix(0, createdNs).UTC()
		tok.ExpiresAt = time.Unix(0, expiresNs).UTC()
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens rows: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
