package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// Deliverer performs one queued delivery
type Deliverer interface {
	Deliver(ctx context.Context, entry port.OutboxEntry) error
}

// OutboxConfig tunes the outbox worker
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is the number of failed deliveries after which an entry
	// is dead-lettered
	MaxAttempts int
	// Backoff returns the wait before the next attempt after n failures
	Backoff func(n int) time.Duration
}

// OutboxWorker drains due outbox entries, retrying failures with backoff
type OutboxWorker struct {
	outbox    port.Outbox
	deliverer Deliverer
	cfg       OutboxConfig
	now       func() time.Time
	logger    *zap.Logger
	loop      loop
}

// NewOutboxWorker creates an outbox worker
func NewOutboxWorker(outbox port.Outbox, deliverer Deliverer, cfg OutboxConfig, logger *zap.Logger) *OutboxWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(n int) time.Duration { return time.Duration(n) * time.Minute }
	}
	return &OutboxWorker{
		outbox:    outbox,
		deliverer: deliverer,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		loop:      loop{name: "OutboxWorker"},
	}
}

// Start begins polling the outbox
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.logger.Info("OutboxWorker starting",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts))
	return w.loop.start(ctx, w.cfg.PollInterval, w.RunOnce)
}

// Stop stops polling and waits for the current batch
func (w *OutboxWorker) Stop() error {
	return w.loop.stop()
}

// Name returns the worker name for identification
func (w *OutboxWorker) Name() string {
	return "OutboxWorker"
}

// RunOnce delivers one batch of due entries
func (w *OutboxWorker) RunOnce(ctx context.Context) {
	entries, err := w.outbox.Due(ctx, w.now().UTC(), w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("Failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, entry)
	}
}

func (w *OutboxWorker) process(ctx context.Context, entry port.OutboxEntry) {
	err := w.deliverer.Deliver(ctx, entry)
	if err == nil {
		if err := w.outbox.Ack(ctx, entry.Key); err != nil {
			w.logger.Error("Failed to acknowledge delivery", zap.String("key", entry.Key), zap.Error(err))
		}
		return
	}

	failures := entry.Attempts + 1
	if failures >= w.cfg.MaxAttempts {
		w.logger.Error("Delivery dead-lettered",
			zap.String("key", entry.Key),
			zap.String("kind", entry.Kind),
			zap.Int("attempts", failures),
			zap.Error(err))
		if dlErr := w.outbox.DeadLetter(ctx, entry.Key, err.Error()); dlErr != nil {
			w.logger.Error("Failed to dead-letter entry", zap.String("key", entry.Key), zap.Error(dlErr))
		}
		return
	}

	next := w.now().UTC().Add(w.cfg.Backoff(failures))
	w.logger.Warn("Delivery failed, will retry",
		zap.String("key", entry.Key),
		zap.String("kind", entry.Kind),
		zap.Int("attempts", failures),
		zap.Time("next_attempt_at", next),
		zap.Error(err))
	if rErr := w.outbox.Retry(ctx, entry.Key, next, err.Error()); rErr != nil {
		w.logger.Error("Failed to reschedule entry", zap.String("key", entry.Key), zap.Error(rErr))
	}
}
