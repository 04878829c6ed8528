package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"storeops/backend/internal/audit"
	"storeops/backend/internal/cache"
	"storeops/backend/internal/config"
	"storeops/backend/internal/httpapi"
	"storeops/backend/internal/observability"
	"storeops/backend/internal/service"
	"storeops/backend/internal/store"
	"storeops/backend/internal/store/memory"
	pgstore "storeops/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter := observability.Exporter{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		AuthHeader:  cfg.OTelAuthHeader,
	}
	shutdowns := make([]func(context.Context) error, 0, 2)
	if cfg.OTelEndpoint != "" {
		shutdownLogs, err := observability.SetupLoggingSDK(bootCtx, exporter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "otel logging setup failed: %v\n", err)
		} else {
			shutdowns = append(shutdowns, shutdownLogs)
		}
	}

	logger := observability.NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.OTelEndpoint != "")
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	tp, shutdownTracing, err := observability.SetupTracingSDK(bootCtx, exporter)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	shutdowns = append(shutdowns, shutdownTracing)

	location, err := time.LoadLocation(cfg.StoreTimezone)
	if err != nil {
		logger.Fatal("invalid STORE_TIMEZONE", zap.String("timezone", cfg.StoreTimezone), zap.Error(err))
	}

	closers := make([]func() error, 0, 3)

	repo, closeRepo, err := openRepository(bootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	orderCache := cache.OrderCache(cache.NoopOrderCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOrderCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(bootCtx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			orderCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	sinks := audit.Fanout{audit.NewStoreSink(repo), audit.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := newKafkaAuditSink(cfg, tp)
		if err != nil {
			logger.Fatal("kafka audit sink", zap.Error(err))
		}
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
		logger.Info("audit: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaAuditTopic))
	}

	svc := service.New(repo,
		service.WithAuditSink(sinks),
		service.WithOrderCache(orderCache, cfg.OrderCacheTTL),
		service.WithLogger(logger),
		service.WithTracer(tp.Tracer("storeops/service")),
		service.WithClock(func() time.Time { return time.Now().In(location) }),
		service.WithOrderTimeout(cfg.OrderTimeout),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.OrderTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("storeops backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
	for _, fn := range shutdowns {
		if err := fn(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and never falls
// back to memory in that case.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithTxAttempts(cfg.TxMaxAttempts))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	}

	if cfg.SeedFile != "" {
		mem, err := memory.NewFromSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: in-memory", zap.String("seed_file", cfg.SeedFile))
		return mem, nil, nil
	}
	logger.Info("repository: in-memory", zap.String("seed_file", "embedded"))
	return memory.NewSeeded(), nil, nil
}

func newKafkaAuditSink(cfg config.Config, tp *sdktrace.TracerProvider) (*audit.KafkaSink, error) {
	base := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAuditTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(cfg.KafkaAuditTopic),
			attribute.String("messaging.kafka.client_id", cfg.ServiceName),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("instrument kafka writer: %w", err)
	}
	return audit.NewKafkaSink(writer, cfg.KafkaAuditTopic), nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return errors.New("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, single-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "147258": true, "159753": true,
	}
	if known[pin] {
		return errors.New("common PIN not allowed")
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if allSame {
		return errors.New("all-same-digit PIN not allowed")
	}
	if ascending || descending {
		return errors.New("sequential PIN not allowed")
	}
	return nil
}
