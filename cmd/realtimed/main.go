package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablewave/tablewave/internal/config"
	"github.com/tablewave/tablewave/internal/event"
	"github.com/tablewave/tablewave/internal/outbox"
	"github.com/tablewave/tablewave/internal/publish"
	"github.com/tablewave/tablewave/internal/routing"
	"github.com/tablewave/tablewave/internal/stream"
	"github.com/tablewave/tablewave/internal/subscribe"
	"github.com/tablewave/tablewave/libs/db"
	otelx "github.com/tablewave/tablewave/libs/otel"
	"github.com/tablewave/tablewave/libs/redisx"
	"github.com/tablewave/tablewave/libs/runtime"
)

// The fixed pattern set this process listens on. Every channel the
// router can emit is covered.
var subscribePatterns = []string{
	"branch:*:waiters",
	"branch:*:kitchen",
	"branch:*:admin",
	"sector:*:waiters",
	"session:*",
	"user:*",
	"tenant:*:admin",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	pools := redisx.New(redisx.Config{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPass,
		DB:            cfg.RedisDB,
		AsyncPoolSize: cfg.PoolSizeAsync,
		BlockPoolSize: cfg.PoolSizeBlocking,
		SocketTimeout: cfg.SocketTimeout,
	})
	defer func() {
		if err := pools.Shutdown(); err != nil {
			logger.Error("redis shutdown error", "err", err)
		}
	}()

	breaker := publish.NewBreaker(publish.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		RecoveryTimeout:  cfg.BreakerRecovery,
	})
	publisher := publish.NewPublisher(
		publish.RedisSender{Client: pools.Async()},
		breaker,
		logger.With("component", "publisher"),
		publish.Config{Retries: cfg.PublishRetries},
	)

	registry := subscribe.NewRegistry()

	subscriber := subscribe.New(pools.Async(), registry, logger.With("component", "subscriber"), subscribe.Config{
		Patterns:          subscribePatterns,
		QueueCapacity:     cfg.QueueCapacity,
		BatchSize:         cfg.BatchSize,
		DropAlertRatio:    cfg.DropAlertRatio,
		ReconnectAttempts: cfg.ReconnectAttempts,
		StrictOrdering:    cfg.StrictOrdering,
	})
	go subscriber.Run(ctx)

	outboxRepo := outbox.NewRepository(pool)
	processor := outbox.NewProcessor(outboxRepo, publisher, logger.With("component", "outbox"), outbox.ProcessorConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.OutboxMaxRetries,
	})
	go processor.Run(ctx)

	streams := stream.RedisStreams{Client: pools.Async()}
	dlq := stream.NewDeadLetter(streams, cfg.StreamDLQ)
	consumer := stream.NewConsumer(streams, dlq, deliverCritical(registry), logger.With("component", "stream"), stream.Config{
		Stream:   cfg.StreamName,
		Group:    cfg.StreamGroup,
		Consumer: cfg.ConsumerName,
	})
	go consumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: pools.ReadyCheck()},
	)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// deliverCritical pushes a guaranteed-path event at every registered
// session matching its channels. Any failed delivery leaves the stream
// entry pending so it is retried or dead-lettered later.
func deliverCritical(registry *subscribe.Registry) stream.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		payload, err := evt.Marshal()
		if err != nil {
			return err
		}
		var lastErr error
		for _, channel := range routing.Resolve(evt) {
			for _, sess := range registry.Match(channel) {
				if err := sess.Deliver(channel, payload); err != nil {
					lastErr = err
				}
			}
		}
		return lastErr
	}
}
