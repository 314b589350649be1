// Package otel implements a store.ReceiptStore that exports receipts via
// OpenTelemetry (OTLP/HTTP). Receipts are converted to OTEL log records and
// shipped to a configured collector; export errors are silently dropped so
// audit recording never blocks the caller.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/opsgate/opsgate/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
)

// Config holds the configuration needed to construct a Store.
type Config struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string

	Timeout      time.Duration
	BatchTimeout time.Duration
	BatchMaxSize int
}

// Store implements store.ReceiptStore by exporting receipts via OTEL.
// It is safe for concurrent use.
type Store struct {
	logProvider *sdklog.LoggerProvider
	logger      otellog.Logger
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otel endpoint is empty")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}
	batchMaxSize := cfg.BatchMaxSize
	if batchMaxSize == 0 {
		batchMaxSize = 512
	}

	opts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithTimeout(timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
	}
	exp, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel log exporter: %w", err)
	}

	batchProc := sdklog.NewBatchProcessor(exp,
		sdklog.WithExportTimeout(timeout),
		sdklog.WithExportInterval(batchTimeout),
		sdklog.WithExportMaxBatchSize(batchMaxSize),
	)

	res := resource.NewSchemaless(attribute.String("service.name", "opsgate"))
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(batchProc),
		sdklog.WithResource(res),
	)

	return &Store{
		logProvider: provider,
		logger:      provider.Logger("opsgate"),
	}, nil
}

func (s *Store) AppendReceipt(ctx context.Context, r types.Receipt) error {
	if s.logger != nil {
		s.logger.Emit(ctx, convertToLogRecord(r))
	}
	return nil
}

// QueryReceipts is not supported; receipts are exported fire-and-forget.
func (s *Store) QueryReceipts(_ context.Context, _ types.ReceiptQuery) ([]types.Receipt, error) {
	return nil, fmt.Errorf("otel store does not support queries")
}

func (s *Store) GetReceipt(_ context.Context, _ string) (types.Receipt, error) {
	return types.Receipt{}, fmt.Errorf("otel store does not support queries")
}

// Close shuts down the log provider, flushing any pending records.
func (s *Store) Close() error {
	if s.logProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel shutdown: %w", err)
	}
	return nil
}
