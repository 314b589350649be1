// Package server wires the gateway together: policy, stores, confirmation
// ledger, runners, HTTP transport. Lifecycle is owned here; everything else
// receives its dependencies explicitly.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opsgate/opsgate/internal/api"
	"github.com/opsgate/opsgate/internal/auth"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/confirm"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/gateway"
	"github.com/opsgate/opsgate/internal/ledger"
	"github.com/opsgate/opsgate/internal/metrics"
	"github.com/opsgate/opsgate/internal/ops"
	"github.com/opsgate/opsgate/internal/policy"
	storepkg "github.com/opsgate/opsgate/internal/store"
	"github.com/opsgate/opsgate/internal/store/composite"
	"github.com/opsgate/opsgate/internal/store/jsonl"
	"github.com/opsgate/opsgate/internal/store/otel"
	"github.com/opsgate/opsgate/internal/store/sqlite"
	"github.com/opsgate/opsgate/internal/store/webhook"
)

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	unixServer *http.Server
	unixLn     net.Listener
	unixPath   string

	store  *composite.Store
	broker *events.Broker
	logger *slog.Logger
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	logger := newLogger(cfg)

	pol, err := policy.LoadFromFile(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	eval, err := policy.NewEvaluator(pol)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Audit.SQLitePath)
	if err != nil {
		return nil, err
	}

	var mirrors []storepkg.ReceiptStore
	if cfg.Audit.JSONL.Enabled {
		jsonlStore, jErr := jsonl.New(cfg.Audit.JSONL.Path, cfg.Audit.JSONL.MaxSizeMB, cfg.Audit.JSONL.MaxBackups)
		if jErr != nil {
			_ = db.Close()
			return nil, jErr
		}
		mirrors = append(mirrors, jsonlStore)
	}
	if cfg.Audit.Webhook.Enabled {
		flushEvery := config.MustDuration(cfg.Audit.Webhook.FlushInterval, 10*time.Second)
		timeout := config.MustDuration(cfg.Audit.Webhook.Timeout, 5*time.Second)
		webhookStore, wErr := webhook.New(cfg.Audit.Webhook.URL, cfg.Audit.Webhook.BatchSize, flushEvery, timeout, cfg.Audit.Webhook.Headers)
		if wErr != nil {
			_ = db.Close()
			return nil, wErr
		}
		mirrors = append(mirrors, webhookStore)
	}
	if cfg.Audit.OTEL.Enabled {
		otelStore, oErr := otel.New(context.Background(), otel.Config{
			Endpoint:     cfg.Audit.OTEL.Endpoint,
			Insecure:     cfg.Audit.OTEL.Insecure,
			Headers:      cfg.Audit.OTEL.Headers,
			Timeout:      config.MustDuration(cfg.Audit.OTEL.Timeout, 10*time.Second),
			BatchTimeout: config.MustDuration(cfg.Audit.OTEL.BatchTimeout, 5*time.Second),
			BatchMaxSize: cfg.Audit.OTEL.BatchMaxSize,
		})
		if oErr != nil {
			_ = db.Close()
			return nil, oErr
		}
		mirrors = append(mirrors, otelStore)
	}
	store := composite.New(db, mirrors...)

	broker := events.NewBroker()
	recorder := ledger.NewRecorder(store, broker, logger)
	confirms := confirm.New(db, eval.ConfirmationTTL())
	collector := metrics.New()

	limits := ops.Limits{
		DefaultTimeout:      config.MustDuration(cfg.Execution.DefaultTimeout, 30*time.Second),
		MaxTimeout:          config.MustDuration(cfg.Execution.MaxTimeout, 10*time.Minute),
		MaxOutputBytes:      config.MustByteSize(cfg.Execution.MaxOutput, 1<<20),
		MaxUndoCaptureBytes: config.MustByteSize(cfg.Execution.MaxUndoCapture, 5*1000*1000),
	}
	registry := ops.NewRegistry(
		ops.NewWriteRunner(limits),
		ops.NewDeleteRunner(limits),
		ops.NewShellRunner(limits),
		ops.NewCommitRunner(limits),
		ops.NewPushRunner(limits),
	)

	gw := gateway.New(registry, eval, confirms, recorder, broker, collector, limits, logger)

	var apiKeyAuth *auth.APIKeyAuth
	if !cfg.Development.DisableAuth && cfg.Auth.Type == "api_key" {
		loaded, aErr := auth.LoadAPIKeys(cfg.Auth.APIKey.KeysFile, cfg.Auth.APIKey.HeaderName)
		if aErr != nil {
			_ = store.Close()
			return nil, aErr
		}
		apiKeyAuth = loaded
	}

	metricsHandler := collector.Handler(metrics.HandlerOptions{
		PendingConfirmations: func() int {
			pending, pErr := confirms.ListPending(context.Background())
			if pErr != nil {
				return 0
			}
			return len(pending)
		},
		EventsDropped: broker.DroppedCount,
	})

	app := api.NewApp(cfg, gw, recorder, confirms, broker, apiKeyAuth, metricsHandler)
	handler := app.Router()

	readTimeout := config.MustDuration(cfg.Server.HTTP.ReadTimeout, 30*time.Second)
	writeTimeout := config.MustDuration(cfg.Server.HTTP.WriteTimeout, 5*time.Minute)

	srv := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		store:  store,
		broker: broker,
		logger: logger,
	}

	ln, err := listenHTTP(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	srv.httpLn = ln

	if cfg.Server.UnixSocket.Enabled && cfg.Server.UnixSocket.Path != "" {
		unixPath := cfg.Server.UnixSocket.Path
		if mkErr := os.MkdirAll(filepath.Dir(unixPath), 0o755); mkErr != nil {
			_ = store.Close()
			_ = ln.Close()
			return nil, fmt.Errorf("unix socket mkdir: %w", mkErr)
		}
		_ = os.Remove(unixPath)
		unixLn, uErr := net.Listen("unix", unixPath)
		if uErr != nil {
			_ = store.Close()
			_ = ln.Close()
			return nil, fmt.Errorf("unix socket listen: %w", uErr)
		}
		srv.unixLn = unixLn
		srv.unixPath = unixPath
		srv.unixServer = &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		}
	}

	return srv, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func listenHTTP(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.HTTP.Addr
	if cfg.Development.DisableAuth || strings.EqualFold(strings.TrimSpace(cfg.Auth.Type), "none") {
		if !isLoopbackListenAddr(addr) {
			return nil, fmt.Errorf("refusing to listen on %q with auth.type=none (use 127.0.0.1/localhost or enable auth)", addr)
		}
	}
	return net.Listen("tcp", addr)
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	// Conservative: unknown hostnames could resolve non-loopback.
	return false
}

// Addr reports the bound HTTP address, useful when the config requested
// port 0.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.logger.Info("server listening", "addr", s.Addr())

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if s.unixServer != nil && s.unixLn != nil {
		go func() {
			if err := s.unixServer.Serve(s.unixLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.unixServer != nil {
			_ = s.unixServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if s.unixServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.unixServer.Shutdown(shutdownCtx)
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.unixLn != nil {
		_ = s.unixLn.Close()
		s.unixLn = nil
	}
	if s.unixPath != "" {
		_ = os.Remove(s.unixPath)
		s.unixPath = ""
	}
	if s.store != nil {
		err := s.store.Close()
		s.store = nil
		return err
	}
	return nil
}
