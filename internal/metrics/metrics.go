package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	receiptsTotal atomic.Uint64
	byDecision    sync.Map // string -> *atomic.Uint64
	byTool        sync.Map // string -> *atomic.Uint64

	tokensIssued   atomic.Uint64
	tokensConsumed atomic.Uint64
	tokensRejected atomic.Uint64

	undosTotal atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncReceipt(tool, decision string) {
	if c == nil {
		return
	}
	c.receiptsTotal.Add(1)
	if decision == "" {
		decision = "unknown"
	}
	ptr, _ := c.byDecision.LoadOrStore(decision, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
	if tool == "" {
		tool = "unknown"
	}
	ptr, _ = c.byTool.LoadOrStore(tool, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) IncTokenIssued() {
	if c == nil {
		return
	}
	c.tokensIssued.Add(1)
}

func (c *Collector) IncTokenConsumed() {
	if c == nil {
		return
	}
	c.tokensConsumed.Add(1)
}

func (c *Collector) IncTokenRejected() {
	if c == nil {
		return
	}
	c.tokensRejected.Add(1)
}

func (c *Collector) IncUndo() {
	if c == nil {
		return
	}
	c.undosTotal.Add(1)
}

type HandlerOptions struct {
	PendingConfirmations func() int
	EventsDropped        func() int64
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP opsgate_up Whether the opsgate server is running.\n")
		fmt.Fprint(w, "# TYPE opsgate_up gauge\n")
		fmt.Fprint(w, "opsgate_up 1\n")

		fmt.Fprint(w, "# HELP opsgate_receipts_total Total receipts recorded.\n")
		fmt.Fprint(w, "# TYPE opsgate_receipts_total counter\n")
		fmt.Fprintf(w, "opsgate_receipts_total %d\n", c.receiptsTotal.Load())

		decisions := snapshotKeys(&c.byDecision)
		if len(decisions) > 0 {
			fmt.Fprint(w, "# HELP opsgate_receipts_by_decision_total Receipts recorded by decision.\n")
			fmt.Fprint(w, "# TYPE opsgate_receipts_by_decision_total counter\n")
			for _, d := range decisions {
				ptr, _ := c.byDecision.Load(d)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "opsgate_receipts_by_decision_total{decision=%q} %d\n", escapeLabelValue(d), n)
			}
		}

		tools := snapshotKeys(&c.byTool)
		if len(tools) > 0 {
			fmt.Fprint(w, "# HELP opsgate_receipts_by_tool_total Receipts recorded by tool.\n")
			fmt.Fprint(w, "# TYPE opsgate_receipts_by_tool_total counter\n")
			for _, t := range tools {
				ptr, _ := c.byTool.Load(t)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "opsgate_receipts_by_tool_total{tool=%q} %d\n", escapeLabelValue(t), n)
			}
		}

		fmt.Fprint(w, "# HELP opsgate_tokens_issued_total Confirmation tokens issued.\n")
		fmt.Fprint(w, "# TYPE opsgate_tokens_issued_total counter\n")
		fmt.Fprintf(w, "opsgate_tokens_issued_total %d\n", c.tokensIssued.Load())

		fmt.Fprint(w, "# HELP opsgate_tokens_consumed_total Confirmation tokens consumed.\n")
		fmt.Fprint(w, "# TYPE opsgate_tokens_consumed_total counter\n")
		fmt.Fprintf(w, "opsgate_tokens_consumed_total %d\n", c.tokensConsumed.Load())

		fmt.Fprint(w, "# HELP opsgate_tokens_rejected_total Confirmation tokens rejected (expired, used or mismatched).\n")
		fmt.Fprint(w, "# TYPE opsgate_tokens_rejected_total counter\n")
		fmt.Fprintf(w, "opsgate_tokens_rejected_total %d\n", c.tokensRejected.Load())

		fmt.Fprint(w, "# HELP opsgate_undo_executions_total Undo replays executed.\n")
		fmt.Fprint(w, "# TYPE opsgate_undo_executions_total counter\n")
		fmt.Fprintf(w, "opsgate_undo_executions_total %d\n", c.undosTotal.Load())

		if opts.PendingConfirmations != nil {
			fmt.Fprint(w, "# HELP opsgate_pending_confirmations Live unused confirmation tokens.\n")
			fmt.Fprint(w, "# TYPE opsgate_pending_confirmations gauge\n")
			fmt.Fprintf(w, "opsgate_pending_confirmations %d\n", opts.PendingConfirmations())
		}

		if opts.EventsDropped != nil {
			fmt.Fprint(w, "# HELP opsgate_events_dropped_total Events dropped due to slow subscribers.\n")
			fmt.Fprint(w, "# TYPE opsgate_events_dropped_total counter\n")
			fmt.Fprintf(w, "opsgate_events_dropped_total %d\n", opts.EventsDropped())
		}
	})
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
