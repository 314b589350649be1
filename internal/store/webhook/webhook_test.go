package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opsgate/opsgate/pkg/types"
)

type capture struct {
	mu      sync.Mutex
	batches [][]types.Receipt
	headers []http.Header
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		var batch []types.Receipt
		if err := json.Unmarshal(b, &batch); err != nil {
			t.Errorf("unmarshal batch: %v", err)
			return
		}
		c.mu.Lock()
		c.batches = append(c.batches, batch)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func TestBatchFlushOnSize(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	s, err := New(srv.URL, 2, time.Hour, time.Second, map[string]string{"X-Auth": "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := s.AppendReceipt(ctx, types.Receipt{ReceiptID: "r-1"}); err != nil {
		t.Fatal(err)
	}
	sink.mu.Lock()
	if len(sink.batches) != 0 {
		t.Fatal("flushed before batch size reached")
	}
	sink.mu.Unlock()

	if err := s.AppendReceipt(ctx, types.Receipt{ReceiptID: "r-2"}); err != nil {
		t.Fatal(err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("batches = %+v", sink.batches)
	}
	if sink.batches[0][0].ReceiptID != "r-1" || sink.batches[0][1].ReceiptID != "r-2" {
		t.Fatalf("batch order: %+v", sink.batches[0])
	}
	if sink.headers[0].Get("X-Auth") != "tok" {
		t.Fatalf("headers = %+v", sink.headers[0])
	}
	if sink.headers[0].Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", sink.headers[0].Get("Content-Type"))
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	sink := &capture{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	s, err := New(srv.URL, 100, time.Hour, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendReceipt(context.Background(), types.Receipt{ReceiptID: "r-1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 || sink.batches[0][0].ReceiptID != "r-1" {
		t.Fatalf("batches = %+v", sink.batches)
	}

	if err := s.AppendReceipt(context.Background(), types.Receipt{ReceiptID: "r-2"}); err == nil {
		t.Fatal("append after close accepted")
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(srv.URL, 1, time.Hour, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendReceipt(context.Background(), types.Receipt{ReceiptID: "r-1"}); err == nil {
		t.Fatal("expected flush error")
	}
}

func TestQueriesUnsupported(t *testing.T) {
	s, err := New("http://127.0.0.1:0/hook", 1, time.Second, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueryReceipts(context.Background(), types.ReceiptQuery{}); err == nil {
		t.Fatal("expected query error")
	}
	if _, err := s.GetReceipt(context.Background(), "x"); err == nil {
		t.Fatal("expected get error")
	}
}
