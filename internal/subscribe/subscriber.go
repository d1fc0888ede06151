package subscribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tablewave/tablewave/internal/metrics"
	"github.com/tablewave/tablewave/internal/publish"
)

type Config struct {
	Patterns          []string
	QueueCapacity     int           // backpressure bound, default 500
	BatchSize         int           // messages dispatched per cycle, default 50
	DispatchEvery     time.Duration // dispatch cycle interval
	DropAlertRatio    float64       // trailing-window drop ratio that raises an alert
	AlertCooldown     time.Duration // minimum gap between drop alerts
	ReconnectAttempts int           // consecutive failures before fatal-level logging
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration // per-attempt backoff budget
	StrictOrdering    bool
}

// Subscriber owns the pattern subscription, the backpressure queue and
// the batch dispatcher. The queue and drop-rate window are private; other
// components only see the component interface.
type Subscriber struct {
	client   *redis.Client
	registry *Registry
	logger   *slog.Logger
	cfg      Config

	queue    *Queue
	dropRate *DropRate

	alertMu   sync.Mutex
	lastAlert time.Time
}

func New(client *redis.Client, registry *Registry, logger *slog.Logger, cfg Config) *Subscriber {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.DispatchEvery <= 0 {
		cfg.DispatchEvery = 100 * time.Millisecond
	}
	if cfg.DropAlertRatio <= 0 {
		cfg.DropAlertRatio = 0.05
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 5 * time.Minute
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 20
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 15 * time.Second
	}
	return &Subscriber{
		client:   client,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		queue:    NewQueue(cfg.QueueCapacity, cfg.StrictOrdering),
		dropRate: NewDropRate(),
	}
}

// DropRatio exposes the trailing-window drop rate for metrics scraping.
func (s *Subscriber) DropRatio() float64 { return s.dropRate.Ratio() }

// Run blocks until ctx is cancelled, hosting the receive loop and the
// batch dispatcher.
func (s *Subscriber) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatchLoop(ctx)
	}()
	s.receiveLoop(ctx)
	wg.Wait()
}

// receiveLoop keeps a pattern subscription alive for the life of the
// process. On a broken stream it closes the subscription (best effort,
// bounded), backs off with jitter and resubscribes. After the configured
// number of consecutive failures it logs at fatal severity but keeps
// retrying: a degraded subscriber beats a dead process.
func (s *Subscriber) receiveLoop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		pubsub := s.client.PSubscribe(ctx, s.cfg.Patterns...)
		received := s.consume(ctx, pubsub)

		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		done := make(chan struct{})
		go func() {
			_ = pubsub.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-closeCtx.Done():
		}
		cancel()

		if ctx.Err() != nil {
			return
		}
		if received > 0 {
			failures = 0
		}
		failures++
		metrics.Reconnects.Inc()
		if failures >= s.cfg.ReconnectAttempts {
			s.logger.Error("subscription stream unrecoverable, still retrying",
				"fatal", true, "consecutive_failures", failures)
		} else {
			s.logger.Warn("subscription stream lost, reconnecting",
				"consecutive_failures", failures)
		}

		delay := publish.Delay(failures-1, s.cfg.ReconnectBase, s.cfg.ReconnectMax)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume reads messages until the stream breaks, pushing each into the
// backpressure queue. Returns how many messages arrived on this
// subscription, so the caller can reset its failure streak.
func (s *Subscriber) consume(ctx context.Context, pubsub *redis.PubSub) int {
	received := 0
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return received
		}
		received++
		dropped := s.queue.Push(Message{
			Channel:  msg.Channel,
			Payload:  []byte(msg.Payload),
			Received: time.Now(),
		})
		if dropped {
			s.dropRate.Dropped()
			s.maybeAlert()
		}
	}
}

// dispatchLoop drains up to BatchSize messages per cycle and delivers
// each to every matching live session concurrently. A failed delivery is
// counted and isolated; it never aborts the batch.
func (s *Subscriber) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DispatchEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range s.queue.Drain(s.cfg.BatchSize) {
				s.dispatch(msg)
			}
		}
	}
}

func (s *Subscriber) dispatch(msg Message) {
	sessions := s.registry.Match(msg.Channel)
	if len(sessions) == 0 {
		s.dropRate.Processed()
		return
	}

	var wg sync.WaitGroup
	failures := make([]bool, len(sessions))
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *Session) {
			defer wg.Done()
			if err := sess.Deliver(msg.Channel, msg.Payload); err != nil {
				failures[i] = true
				metrics.DeliveryFailures.Inc()
				s.logger.Warn("delivery failed", "session", sess.ID, "channel", msg.Channel, "err", err)
			}
		}(i, sess)
	}
	wg.Wait()

	allFailed := true
	for _, f := range failures {
		if !f {
			allFailed = false
			break
		}
	}
	if allFailed {
		if !msg.Redelivered {
			// One redelivery pass; position depends on the ordering mode.
			if s.queue.Requeue(msg) {
				s.dropRate.Dropped()
				s.maybeAlert()
			}
			return
		}
		// Second total failure: the message is lost, not delivered.
		s.logger.Warn("redelivered message failed again, dropped", "channel", msg.Channel)
		s.dropRate.Dropped()
		metrics.Dropped.Inc()
		s.maybeAlert()
		return
	}

	s.dropRate.Processed()
	metrics.Dispatched.Inc()
}

func (s *Subscriber) maybeAlert() {
	ratio := s.dropRate.Ratio()
	if ratio <= s.cfg.DropAlertRatio {
		return
	}
	s.alertMu.Lock()
	if time.Since(s.lastAlert) < s.cfg.AlertCooldown {
		s.alertMu.Unlock()
		return
	}
	s.lastAlert = time.Now()
	s.alertMu.Unlock()
	s.logger.Error("backpressure drop rate over threshold",
		"ratio", ratio, "threshold", s.cfg.DropAlertRatio)
}
