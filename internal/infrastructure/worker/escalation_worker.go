package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Ticker advances time-driven workflow state
type Ticker interface {
	Tick(ctx context.Context, now time.Time) ([]string, error)
}

// EscalationWorker drives escalation and expiry by ticking the engine on a
// fixed interval. The engine never reads the clock for this itself.
type EscalationWorker struct {
	ticker   Ticker
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	loop     loop
}

// NewEscalationWorker creates a worker ticking every interval
func NewEscalationWorker(ticker Ticker, interval time.Duration, logger *zap.Logger) *EscalationWorker {
	return &EscalationWorker{
		ticker:   ticker,
		interval: interval,
		timeout:  time.Minute,
		now:      time.Now,
		logger:   logger,
		loop:     loop{name: "EscalationWorker"},
	}
}

// Start begins ticking; the first tick runs immediately
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.logger.Info("EscalationWorker starting", zap.Duration("interval", w.interval))
	return w.loop.start(ctx, w.interval, w.RunOnce)
}

// Stop stops ticking and waits for a running tick to finish
func (w *EscalationWorker) Stop() error {
	return w.loop.stop()
}

// Name returns the worker name for identification
func (w *EscalationWorker) Name() string {
	return "EscalationWorker"
}

// RunOnce performs one tick as of the current time
func (w *EscalationWorker) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	now := w.now().UTC()
	start := time.Now()
	changed, err := w.ticker.Tick(ctx, now)
	if err != nil {
		w.logger.Error("Tick finished with errors",
			zap.Time("now", now),
			zap.Int("changed", len(changed)),
			zap.Error(err))
		return
	}
	if len(changed) > 0 {
		w.logger.Info("Tick changed requests",
			zap.Time("now", now),
			zap.Strings("request_ids", changed),
			zap.Duration("elapsed", time.Since(start)))
	}
}
