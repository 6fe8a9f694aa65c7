package worker

import (
	"context"
	"errors"
	"time"

	"booking-core/internal/broker"
	"booking-core/internal/models"
	"booking-core/internal/service"
	"booking-core/internal/util"

	"go.uber.org/zap"
)

// EventIntake applies one provider event.
type EventIntake interface {
	Handle(ctx context.Context, ev models.ProviderEvent) (models.Payment, bool, error)
}

// ProviderEventWorker applies provider callbacks consumed from Kafka
type ProviderEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewProviderEventWorker creates a new provider event worker
func NewProviderEventWorker(consumer *broker.Consumer, intake EventIntake) *ProviderEventWorker {
	logger := util.ComponentLogger("provider-event-worker")
	eventHandler := broker.NewEventHandler()
	eventHandler.OnProviderEvent(applyProviderEvent(intake, logger))

	return &ProviderEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// applyProviderEvent returns the message callback. Business rejections are
// acknowledged so they do not block the partition; anything else is left
// uncommitted and redelivered.
func applyProviderEvent(intake EventIntake, logger *zap.Logger) func(context.Context, models.ProviderEvent) error {
	return func(ctx context.Context, ev models.ProviderEvent) error {
		p, duplicate, err := intake.Handle(ctx, ev)
		switch {
		case err == nil:
			logger.Debug("Provider event applied",
				zap.String("event_id", ev.EventID),
				zap.String("booking_id", ev.BookingID),
				zap.String("status", string(p.Status)),
				zap.Bool("duplicate", duplicate))
			return nil
		case errors.Is(err, service.ErrInvalidTransition),
			errors.Is(err, service.ErrPaymentNotFound),
			errors.Is(err, service.ErrInvalidRequest):
			logger.Warn("Provider event rejected",
				zap.String("event_id", ev.EventID),
				zap.String("booking_id", ev.BookingID),
				zap.Error(err))
			return nil
		default:
			return err
		}
	}
}

// Start starts the worker
func (w *ProviderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting provider event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ProviderEventWorker) Stop() error {
	w.logger.Info("Stopping provider event worker")
	return w.consumer.Close()
}

// Sweeper expires lapsed holds.
type Sweeper interface {
	SweepExpired(ctx context.Context) int
}

// LeaseSweeper periodically expires lapsed holds
type LeaseSweeper struct {
	holds    Sweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewLeaseSweeper creates a new lease sweeper
func NewLeaseSweeper(holds Sweeper, interval time.Duration) *LeaseSweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &LeaseSweeper{holds: holds, interval: interval, logger: util.ComponentLogger("lease-sweeper")}
}

// Start runs the sweep loop until ctx is cancelled
func (s *LeaseSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting lease sweeper", zap.Duration("interval", s.interval))
	runEvery(ctx, s.interval, func(ctx context.Context) {
		s.holds.SweepExpired(ctx)
	})
	return ctx.Err()
}

// Poller runs one reconciliation pass.
type Poller interface {
	RunOnce(ctx context.Context) (int, error)
}

// Locker is a lease-based distributed lock.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const reconcileLockKey = "reconcile-poller"

// ReconcileWorker runs the reconciliation poller. The Locker only keeps two
// processes from polling in the same interval, as during a rolling restart.
// It does not make several replicas safe: hold and payment state lives in
// process memory, so booking-core runs as a single replica.
type ReconcileWorker struct {
	poller   Poller
	locker   Locker
	interval time.Duration
	logger   *zap.Logger
}

// NewReconcileWorker creates a new reconcile worker. locker may be nil.
func NewReconcileWorker(poller Poller, locker Locker, interval time.Duration) *ReconcileWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReconcileWorker{
		poller:   poller,
		locker:   locker,
		interval: interval,
		logger:   util.ComponentLogger("reconcile-worker"),
	}
}

// Start runs the poll loop until ctx is cancelled
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconcile worker", zap.Duration("interval", w.interval))
	runEvery(ctx, w.interval, w.tick)
	return ctx.Err()
}

func (w *ReconcileWorker) tick(ctx context.Context) {
	if w.locker != nil {
		ok, err := w.locker.AcquireLock(ctx, reconcileLockKey, w.interval)
		if err != nil {
			w.logger.Warn("Failed to acquire reconcile lock", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.WithoutCancel(ctx), reconcileLockKey); err != nil {
				w.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	n, err := w.poller.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("Reconcile pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Reconcile pass completed", zap.Int("reconciled", n))
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
