// Package api exposes the gateway over HTTP. All decisions stay inside the
// gateway; handlers translate between the wire envelope and the pipeline.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opsgate/opsgate/internal/auth"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/confirm"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/gateway"
	"github.com/opsgate/opsgate/internal/ledger"
	"github.com/opsgate/opsgate/pkg/types"
)

type App struct {
	cfg      *config.Config
	gateway  *gateway.Gateway
	recorder *ledger.Recorder
	confirms *confirm.Ledger
	broker   *events.Broker

	apiKeyAuth *auth.APIKeyAuth

	metricsHandler http.Handler
}

func NewApp(cfg *config.Config, gw *gateway.Gateway, recorder *ledger.Recorder, confirms *confirm.Ledger, broker *events.Broker, apiKeyAuth *auth.APIKeyAuth, metricsHandler http.Handler) *App {
	return &App{cfg: cfg, gateway: gw, recorder: recorder, confirms: confirms, broker: broker, apiKeyAuth: apiKeyAuth, metricsHandler: metricsHandler}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.authMiddleware)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ready\n") })

	if a.cfg.Metrics.Enabled && a.metricsHandler != nil {
		r.Method(http.MethodGet, a.cfg.Metrics.Path, a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tools/execute", a.executeTool)

		r.Get("/receipts", a.listReceipts)
		r.Get("/receipts/{id}", a.getReceipt)
		r.Post("/receipts/{id}/undo", a.undoReceipt)

		r.With(a.requireOperator).Get("/confirmations", a.listConfirmations)

		r.Get("/events/stream", a.streamEvents)
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if a.cfg.Development.DisableAuth || strings.EqualFold(a.cfg.Auth.Type, "none") {
		// No authentication means a single trusted local caller: give it
		// the full surface.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithRole(r.Context(), auth.RoleAdmin)))
		})
	}
	if strings.EqualFold(a.cfg.Auth.Type, "api_key") {
		if a.apiKeyAuth == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "api key auth enabled but keys not loaded",
				})
			})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(a.apiKeyAuth.HeaderName())
			role, ok := a.apiKeyAuth.Authenticate(key)
			if key == "" || !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithRole(r.Context(), role)))
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unsupported auth type"})
	})
}

// requireOperator guards endpoints that expose other callers' pending work.
// An agent key seeing another principal's confirmation token could redeem
// its destructive operation, so only operator and admin keys pass.
func (a *App) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.RoleFrom(r.Context()).CanOperate() {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden: operator role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) executeTool(w http.ResponseWriter, r *http.Request) {
	var req types.ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tool is required"})
		return
	}

	resp, err := a.gateway.Execute(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, statusForResponse(resp), resp)
}

func (a *App) listReceipts(w http.ResponseWriter, r *http.Request) {
	q, err := parseReceiptQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	receipts, err := a.recorder.Query(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (a *App) getReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	receipt, err := a.recorder.Get(r.Context(), id)
	if err != nil {
		if gateway.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "receipt not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *App) undoReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ConfirmationToken string `json:"confirmation_token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}

	resp, err := a.gateway.Undo(r.Context(), id, req.ConfirmationToken)
	if err != nil {
		switch {
		case gateway.IsNotFound(err):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "receipt not found"})
		case isUndoNotSupported(err):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		}
		return
	}
	writeJSON(w, statusForResponse(resp), resp)
}

func (a *App) listConfirmations(w http.ResponseWriter, r *http.Request) {
	pending, err := a.confirms.ListPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if pending == nil {
		pending = []types.ConfirmationToken{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stream unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.broker.Subscribe(200)
	defer a.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			_, _ = w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

// statusForResponse maps the response envelope to an HTTP status: pending
// confirmations are 202, denials 403, execution failures 422.
func statusForResponse(resp types.ToolResponse) int {
	switch {
	case resp.Status == types.DecisionPendingConfirm:
		return http.StatusAccepted
	case resp.Success:
		return http.StatusOK
	case strings.HasPrefix(resp.Error, "denied:"):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

func isUndoNotSupported(err error) bool {
	return errors.Is(err, gateway.ErrUndoNotSupported)
}

func parseReceiptQuery(r *http.Request) (types.ReceiptQuery, error) {
	v := r.URL.Query()
	var q types.ReceiptQuery
	q.Tool = v.Get("tool")
	if decision := v.Get("decision"); decision != "" {
		d := types.Decision(decision)
		q.Decision = &d
	}
	if result := v.Get("result"); result != "" {
		res := types.Result(result)
		q.Result = &res
	}
	q.Limit, _ = strconv.Atoi(v.Get("limit"))
	q.Offset, _ = strconv.Atoi(v.Get("offset"))

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

func parseTimeOrAgo(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smhdw") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
