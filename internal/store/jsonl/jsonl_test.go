package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsgate/opsgate/pkg/types"
)

func TestAppendReceipt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	s, err := New(path, 100, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, id := range []string{"r-1", "r-2"} {
		err := s.AppendReceipt(ctx, types.Receipt{
			ReceiptID: id,
			Tool:      "file.write",
			Decision:  types.DecisionAllowed,
			Result:    types.ResultOK,
		})
		if err != nil {
			t.Fatalf("AppendReceipt: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r types.Receipt
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line not valid json: %v", err)
		}
		ids = append(ids, r.ReceiptID)
	}
	if len(ids) != 2 || ids[0] != "r-1" || ids[1] != "r-2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	s, err := New(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	// Push the file past 1MB, then append once more to trigger rotation.
	big := types.Receipt{
		ReceiptID: "big",
		Tool:      "shell.run",
		Stdout:    strings.Repeat("x", 1<<20),
	}
	if err := s.AppendReceipt(ctx, big); err != nil {
		t.Fatal(err)
	}
	small := types.Receipt{ReceiptID: "after-rotate", Tool: "shell.run"}
	if err := s.AppendReceipt(ctx, small); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "after-rotate") {
		t.Fatalf("active file = %q", b)
	}
	if strings.Contains(string(b), `"big"`) {
		t.Fatal("rotated content still in active file")
	}
}

func TestQueriesUnsupported(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "receipts.jsonl"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.QueryReceipts(context.Background(), types.ReceiptQuery{}); err == nil {
		t.Fatal("expected query error")
	}
	if _, err := s.GetReceipt(context.Background(), "x"); err == nil {
		t.Fatal("expected get error")
	}
}
