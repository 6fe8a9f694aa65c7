package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProviderStatus is what the payment provider reports for a booking.
type ProviderStatus struct {
	Status      models.ProviderStatus `json:"status"`
	ProviderRef string                `json:"provider_ref"`
	Reason      string                `json:"reason,omitempty"`
}

// ProviderClient queries the external payment provider.
type ProviderClient interface {
	PaymentStatus(ctx context.Context, bookingID, providerRef string) (ProviderStatus, error)
}

// Reconcile outcomes
const (
	ReconcileApplied        = "applied"
	ReconcileUnchanged      = "unchanged"
	ReconcilePending        = "pending"
	ReconcileRetryScheduled = "retry_scheduled"
	ReconcileAttention      = "attention"
)

// ReconcileResult reports what one reconciliation did.
type ReconcileResult struct {
	Payment       models.Payment `json:"payment"`
	Outcome       string         `json:"outcome"`
	Attempts      int            `json:"attempts,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
}

// Reconciler converges local payment state with the provider's.
type Reconciler struct {
	engine      *Engine
	provider    ProviderClient
	retries     RetryQueue
	clock       clock.Clock
	logger      *zap.Logger
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	batchSize   int
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithQueryTimeout bounds each provider query.
func WithQueryTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetryPolicy sets the attempt limit and the backoff bounds.
func WithRetryPolicy(maxAttempts int, base, ceiling time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if base > 0 {
			r.baseBackoff = base
		}
		if ceiling >= r.baseBackoff {
			r.maxBackoff = ceiling
		}
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(engine *Engine, provider ProviderClient, retries RetryQueue, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		engine:      engine,
		provider:    provider,
		retries:     retries,
		clock:       clk,
		logger:      util.ComponentLogger("reconciler"),
		timeout:     5 * time.Second,
		maxAttempts: 5,
		baseBackoff: 2 * time.Second,
		maxBackoff:  5 * time.Minute,
		batchSize:   100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile queries the provider for a booking's pending payment and applies
// the corresponding transition. An unreachable provider schedules a retry
// and returns the last known state; it is not an error.
func (r *Reconciler) Reconcile(ctx context.Context, bookingID string) (ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile",
		trace.WithAttributes(attribute.String("booking_id", bookingID)))
	defer span.End()

	payment, err := r.engine.PaymentByBooking(bookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if payment.Status != models.PaymentStatusPending {
		r.clearRetry(ctx, bookingID)
		return r.done(ReconcileResult{Payment: payment, Outcome: ReconcileUnchanged}), nil
	}

	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	status, err := r.provider.PaymentStatus(qctx, bookingID, payment.ProviderRef)
	cancel()
	util.ProviderQueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.FailSpan(span, err)
		return r.scheduleRetry(ctx, payment, err)
	}
	r.clearRetry(ctx, bookingID)

	payload := TransitionPayload{Actor: models.ActorReconciler, ProviderRef: status.ProviderRef, Reason: status.Reason}
	var event PaymentEvent
	switch status.Status {
	case models.ProviderStatusSucceeded:
		event = EventProviderSucceeded
	case models.ProviderStatusFailed:
		event = EventProviderFailed
	default:
		lapsed, err := r.engine.HoldsLapsed(ctx, bookingID)
		if err != nil {
			return ReconcileResult{Payment: payment}, err
		}
		if !lapsed {
			return r.done(ReconcileResult{Payment: payment, Outcome: ReconcilePending}), nil
		}
		event = EventLeaseExpired
		payload.Reason = "hold lease expired"
	}

	next, changed, err := r.engine.transition(ctx, payment.ID, event, payload)
	if err != nil {
		return r.done(ReconcileResult{Payment: next, Outcome: ReconcileUnchanged}), err
	}
	outcome := ReconcileUnchanged
	if changed {
		outcome = ReconcileApplied
	}
	return r.done(ReconcileResult{Payment: next, Outcome: outcome}), nil
}

func (r *Reconciler) scheduleRetry(ctx context.Context, payment models.Payment, cause error) (ReconcileResult, error) {
	attempts, err := r.retries.Attempts(ctx, payment.BookingID)
	if err != nil {
		r.logger.Warn("Failed to read retry attempts", zap.String("booking_id", payment.BookingID), zap.Error(err))
	}
	attempts++

	if attempts >= r.maxAttempts {
		r.clearRetry(ctx, payment.BookingID)
		reason := fmt.Sprintf("provider unreachable after %d attempts: %v", attempts, cause)
		marked, err := r.engine.MarkAttention(ctx, payment.ID, reason, models.ActorReconciler)
		if err != nil {
			return ReconcileResult{Payment: payment, Attempts: attempts}, err
		}
		return r.done(ReconcileResult{Payment: marked, Outcome: ReconcileAttention, Attempts: attempts}), nil
	}

	at := r.clock.Now().Add(r.backoff(attempts))
	if err := r.retries.Schedule(ctx, payment.BookingID, attempts, at); err != nil {
		return ReconcileResult{Payment: payment, Attempts: attempts}, fmt.Errorf("schedule retry: %w", err)
	}
	r.logger.Warn("Provider unreachable, retry scheduled",
		zap.String("booking_id", payment.BookingID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", at),
		zap.Error(cause))
	return r.done(ReconcileResult{Payment: payment, Outcome: ReconcileRetryScheduled, Attempts: attempts, NextAttemptAt: &at}), nil
}

// backoff returns base * 2^(attempts-1), capped at the maximum.
func (r *Reconciler) backoff(attempts int) time.Duration {
	d := r.baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return d
}

func (r *Reconciler) clearRetry(ctx context.Context, bookingID string) {
	if err := r.retries.Clear(ctx, bookingID); err != nil {
		r.logger.Warn("Failed to clear retry", zap.String("booking_id", bookingID), zap.Error(err))
	}
}

func (r *Reconciler) done(res ReconcileResult) ReconcileResult {
	util.ReconciliationsTotal.WithLabelValues(res.Outcome).Inc()
	return res
}

// RunOnce reconciles every due retry, then every pending payment that has
// no retry waiting. It returns how many bookings were reconciled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	due, err := r.retries.Due(ctx, r.clock.Now(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	seen := make(map[string]bool, len(due))
	count := 0
	for _, bookingID := range due {
		seen[bookingID] = true
		if _, err := r.Reconcile(ctx, bookingID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			r.logger.Error("Reconcile failed", zap.String("booking_id", bookingID), zap.Error(err))
		}
		count++
	}

	for _, p := range r.engine.ListPayments(PaymentFilter{Status: models.PaymentStatusPending}) {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if seen[p.BookingID] {
			continue
		}
		if attempts, err := r.retries.Attempts(ctx, p.BookingID); err == nil && attempts > 0 {
			continue
		}
		if _, err := r.Reconcile(ctx, p.BookingID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			r.logger.Error("Reconcile failed", zap.String("booking_id", p.BookingID), zap.Error(err))
		}
		count++
	}
	return count, nil
}
