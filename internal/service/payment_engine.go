package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HoldController is the slice of the hold manager the engine drives.
type HoldController interface {
	AcquireHold(ctx context.Context, in AcquireHoldInput) (models.ReservationHold, error)
	CommitHolds(ctx context.Context, holdIDs []string, actor models.Actor) ([]models.ReservationHold, error)
	ReleaseHold(ctx context.Context, holdID, reason string, actor models.Actor) (models.ReservationHold, error)
	GetHold(ctx context.Context, holdID string) (models.ReservationHold, error)
}

// PaymentEvent drives the payment state machine.
type PaymentEvent string

const (
	EventProviderSucceeded PaymentEvent = "PROVIDER_SUCCEEDED"
	EventProviderFailed    PaymentEvent = "PROVIDER_FAILED"
	EventLeaseExpired      PaymentEvent = "LEASE_EXPIRED"
	EventVerify            PaymentEvent = "VERIFY"
	EventFlag              PaymentEvent = "FLAG"
	EventNote              PaymentEvent = "NOTE"
	EventRefund            PaymentEvent = "REFUND"
)

// AdminOnly reports whether the event is reserved for administrators.
func (e PaymentEvent) AdminOnly() bool {
	switch e {
	case EventVerify, EventFlag, EventNote, EventRefund:
		return true
	}
	return false
}

// TransitionPayload carries the event's data and who caused it.
type TransitionPayload struct {
	Actor       models.Actor
	ProviderRef string
	Reason      string
	Note        string
}

// OpenBookingInput describes a new booking and the payment it awaits.
type OpenBookingInput struct {
	GuestID     string
	Rooms       []models.BookingRoom
	Range       models.DateRange
	Amount      int64
	Currency    string
	ProviderRef string
	Lease       time.Duration
	Actor       models.Actor
}

// OpenBookingResult is what OpenBooking produced. On failure only Booking
// is set and holds the cancelled booking.
type OpenBookingResult struct {
	Booking models.Booking           `json:"booking"`
	Payment models.Payment           `json:"payment"`
	Holds   []models.ReservationHold `json:"holds"`
}

// PaymentFilter narrows payment listings; zero fields match everything.
type PaymentFilter struct {
	Status        models.PaymentStatus
	AttentionOnly bool
}

// Engine owns bookings and payments and applies payment transitions.
// Transitions for one payment are serialized; distinct payments proceed
// in parallel. Lock order is payment, then room type.
type Engine struct {
	holds    HoldController
	audit    *auditRecorder
	notifier Notifier
	clock    clock.Clock
	logger   *zap.Logger
	locks    *keyedMutex

	// stored values are replaced, never mutated in place
	mu        sync.RWMutex
	payments  map[string]*models.Payment
	bookings  map[string]*models.Booking
	byBooking map[string]string
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithNotifier sets where notifications are published.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithEngineLogger overrides the component logger.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a payment engine.
func NewEngine(holds HoldController, log AuditLog, clk clock.Clock, opts ...EngineOption) *Engine {
	e := &Engine{
		holds:     holds,
		clock:     clk,
		logger:    util.ComponentLogger("payments"),
		locks:     newKeyedMutex(),
		payments:  make(map[string]*models.Payment),
		bookings:  make(map[string]*models.Booking),
		byBooking: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	e.audit = newAuditRecorder(log, clk, e.logger)
	return e
}

// OpenBooking creates a booking, acquires a hold per room line and opens a
// pending payment. If any step fails the holds taken so far are released
// and the booking is cancelled.
func (e *Engine) OpenBooking(ctx context.Context, in OpenBookingInput) (OpenBookingResult, error) {
	ctx, span := util.StartSpan(ctx, "Engine.OpenBooking")
	defer span.End()

	if err := validateOpenBooking(in); err != nil {
		return OpenBookingResult{}, err
	}

	now := e.clock.Now()
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}

	booking := models.Booking{
		ID:        uuid.New().String(),
		GuestID:   in.GuestID,
		Rooms:     append([]models.BookingRoom(nil), in.Rooms...),
		CheckIn:   in.Range.CheckIn,
		CheckOut:  in.Range.CheckOut,
		Status:    models.BookingStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range booking.Rooms {
		booking.Rooms[i].HoldID = ""
	}
	if err := e.audit.record(ctx, in.Actor, models.AuditCreate, models.EntityBooking,
		booking.ID, nil, booking, "Booking opened"); err != nil {
		return OpenBookingResult{}, err
	}
	e.putBooking(booking)

	pending := booking.Clone()
	holds := make([]models.ReservationHold, 0, len(pending.Rooms))
	for i, line := range pending.Rooms {
		hold, err := e.holds.AcquireHold(ctx, AcquireHoldInput{
			RoomTypeID: line.RoomTypeID,
			Range:      booking.Range(),
			Quantity:   line.Quantity,
			BookingID:  booking.ID,
			Lease:      in.Lease,
			Actor:      in.Actor,
		})
		if err != nil {
			return e.abandonBooking(ctx, booking, holds, in.Actor, err)
		}
		holds = append(holds, hold)
		pending.Rooms[i].HoldID = hold.ID
	}

	pending.Status = models.BookingStatusPendingPayment
	pending.UpdatedAt = e.clock.Now()
	if err := e.audit.record(ctx, in.Actor, models.AuditUpdate, models.EntityBooking,
		booking.ID, booking, pending, "Rooms held, awaiting payment"); err != nil {
		return e.abandonBooking(ctx, booking, holds, in.Actor, err)
	}
	e.putBooking(pending)

	payment := models.Payment{
		ID:                 uuid.New().String(),
		BookingID:          booking.ID,
		Amount:             in.Amount,
		Currency:           currency,
		Status:             models.PaymentStatusPending,
		VerificationStatus: models.VerificationUnverified,
		ProviderRef:        in.ProviderRef,
		Notes:              []models.PaymentNote{},
		CreatedAt:          pending.UpdatedAt,
		UpdatedAt:          pending.UpdatedAt,
	}
	if err := e.audit.record(ctx, in.Actor, models.AuditCreate, models.EntityPayment,
		payment.ID, nil, payment, "Payment opened"); err != nil {
		return e.abandonBooking(ctx, pending, holds, in.Actor, err)
	}
	e.putPayment(payment)

	e.logger.Info("Booking opened",
		zap.String("booking_id", booking.ID),
		zap.String("payment_id", payment.ID),
		zap.String("guest_id", booking.GuestID),
		zap.Int("rooms", len(holds)))

	return OpenBookingResult{Booking: pending.Clone(), Payment: payment.Clone(), Holds: holds}, nil
}

func validateOpenBooking(in OpenBookingInput) error {
	if in.GuestID == "" {
		return fmt.Errorf("%w: guest_id is required", ErrInvalidRequest)
	}
	if len(in.Rooms) == 0 {
		return fmt.Errorf("%w: at least one room is required", ErrInvalidRequest)
	}
	for _, r := range in.Rooms {
		if r.RoomTypeID == "" || r.Quantity <= 0 {
			return fmt.Errorf("%w: every room needs a room_type_id and a positive quantity", ErrInvalidRequest)
		}
	}
	if !in.Range.Valid() {
		return fmt.Errorf("%w: check_out must be after check_in", ErrInvalidRequest)
	}
	if in.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}
	return nil
}

// abandonBooking is the compensation path of OpenBooking.
func (e *Engine) abandonBooking(ctx context.Context, booking models.Booking, holds []models.ReservationHold, actor models.Actor, cause error) (OpenBookingResult, error) {
	for _, h := range holds {
		if _, err := e.holds.ReleaseHold(ctx, h.ID, "booking abandoned", actor); err != nil {
			e.logger.Error("Failed to release hold during compensation",
				zap.String("hold_id", h.ID),
				zap.String("booking_id", booking.ID),
				zap.Error(err))
		}
	}

	cancelled := booking.Clone()
	cancelled.Status = models.BookingStatusCancelled
	cancelled.UpdatedAt = e.clock.Now()
	if err := e.audit.record(ctx, actor, models.AuditCancel, models.EntityBooking,
		booking.ID, booking, cancelled, "Booking abandoned: "+cause.Error()); err != nil {
		e.logger.Error("Failed to cancel abandoned booking",
			zap.String("booking_id", booking.ID),
			zap.Error(err))
		return OpenBookingResult{Booking: booking.Clone()}, cause
	}
	e.putBooking(cancelled)

	e.logger.Info("Booking abandoned",
		zap.String("booking_id", booking.ID),
		zap.Int("released_holds", len(holds)),
		zap.Error(cause))
	return OpenBookingResult{Booking: cancelled}, cause
}

// Transition applies one event to a payment and returns its resulting state.
// Events that restate the current outcome are absorbed as no-ops.
func (e *Engine) Transition(ctx context.Context, paymentID string, event PaymentEvent, payload TransitionPayload) (models.Payment, error) {
	p, _, err := e.transition(ctx, paymentID, event, payload)
	return p, err
}

func (e *Engine) transition(ctx context.Context, paymentID string, event PaymentEvent, payload TransitionPayload) (models.Payment, bool, error) {
	ctx, span := util.StartSpan(ctx, "Engine.Transition",
		trace.WithAttributes(
			attribute.String("payment_id", paymentID),
			attribute.String("event", string(event)),
		))
	defer span.End()

	unlock := e.locks.Lock(paymentID)
	defer unlock()

	current, ok := e.payment(paymentID)
	if !ok {
		return models.Payment{}, false, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}

	var (
		next    models.Payment
		changed bool
		err     error
	)
	switch event {
	case EventProviderSucceeded:
		next, changed, err = e.applySuccess(ctx, current, payload)
	case EventProviderFailed, EventLeaseExpired:
		next, changed, err = e.applyFailure(ctx, current, event, payload)
	case EventVerify:
		next, changed, err = e.applyVerify(ctx, current, payload)
	case EventFlag:
		next, changed, err = e.applyFlag(ctx, current, payload)
	case EventNote:
		next, changed, err = e.applyNote(ctx, current, payload)
	case EventRefund:
		next, changed, err = e.applyRefund(ctx, current, payload)
	default:
		next, err = current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}

	outcome := "applied"
	switch {
	case errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidRequest):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case !changed:
		outcome = "noop"
	}
	util.PaymentTransitionsTotal.WithLabelValues(string(event), outcome).Inc()

	if err != nil {
		util.FailSpan(span, err)
		e.logger.Warn("Payment transition not applied",
			zap.String("payment_id", paymentID),
			zap.String("event", string(event)),
			zap.String("status", string(next.Status)),
			zap.String("actor", payload.Actor.ID),
			zap.Error(err))
		return next, changed, err
	}
	if changed {
		e.logger.Info("Payment transitioned",
			zap.String("payment_id", paymentID),
			zap.String("event", string(event)),
			zap.String("from", string(current.Status)),
			zap.String("to", string(next.Status)),
			zap.String("verification", string(next.VerificationStatus)),
			zap.String("actor", payload.Actor.ID))
	}
	return next, changed, nil
}

func (e *Engine) applySuccess(ctx context.Context, cur models.Payment, payload TransitionPayload) (models.Payment, bool, error) {
	switch cur.Status {
	case models.PaymentStatusPaid:
		// a duplicate still repairs a booking left behind by an earlier audit failure
		err := e.ensureBookingStatus(ctx, cur.BookingID, models.BookingStatusConfirmed, models.AuditUpdate, payload.Actor, "Booking confirmed")
		return cur, false, err
	case models.PaymentStatusRefunded:
		return cur, false, nil
	case models.PaymentStatusFailed:
		marked, err := e.markAttentionLocked(ctx, cur, "provider reported success for a failed payment", payload.Actor)
		if err != nil {
			return cur, false, err
		}
		return marked, marked.UpdatedAt != cur.UpdatedAt, fmt.Errorf("%w: payment %s already failed", ErrInvalidTransition, cur.ID)
	}

	booking, ok := e.booking(cur.BookingID)
	if !ok {
		return cur, false, fmt.Errorf("%w: %s", ErrBookingNotFound, cur.BookingID)
	}

	// all lines commit together, so a lapsed line never leaves its
	// siblings committed
	holds, err := e.holds.CommitHolds(ctx, booking.HoldIDs(), payload.Actor)
	if errors.Is(err, ErrHoldAlreadyResolved) {
		for _, h := range holds {
			if !h.State.Occupies() {
				return e.rejectLapsed(ctx, cur, h, payload.Actor)
			}
		}
	}
	if err != nil {
		return cur, false, err
	}

	next := cur.Clone()
	next.Status = models.PaymentStatusPaid
	if payload.ProviderRef != "" {
		next.ProviderRef = payload.ProviderRef
	}
	next.UpdatedAt = e.clock.Now()
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditUpdate, "Payment confirmed by provider"); err != nil {
		return cur, false, err
	}

	bookingErr := e.ensureBookingStatus(ctx, cur.BookingID, models.BookingStatusConfirmed, models.AuditUpdate, payload.Actor, "Booking confirmed")
	e.notify(ctx, models.NotificationPaymentConfirmed, next, "")
	return next, true, bookingErr
}

func (e *Engine) rejectLapsed(ctx context.Context, cur models.Payment, hold models.ReservationHold, actor models.Actor) (models.Payment, bool, error) {
	reason := fmt.Sprintf("provider confirmed payment after hold %s became %s", hold.ID, hold.State)
	marked, err := e.markAttentionLocked(ctx, cur, reason, actor)
	if err != nil {
		return cur, false, err
	}
	return marked, marked.UpdatedAt != cur.UpdatedAt,
		fmt.Errorf("%w: hold %s is %s", ErrInvalidTransition, hold.ID, hold.State)
}

func (e *Engine) applyFailure(ctx context.Context, cur models.Payment, event PaymentEvent, payload TransitionPayload) (models.Payment, bool, error) {
	reason := payload.Reason
	if reason == "" {
		reason = "declined by provider"
		if event == EventLeaseExpired {
			reason = "hold lease expired"
		}
	}

	switch cur.Status {
	case models.PaymentStatusFailed:
		return cur, false, e.unwind(ctx, cur, payload.Actor, cur.FailureReason)
	case models.PaymentStatusPaid, models.PaymentStatusRefunded:
		return cur, false, fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, cur.ID, cur.Status)
	}

	next := cur.Clone()
	next.Status = models.PaymentStatusFailed
	next.FailureReason = reason
	next.UpdatedAt = e.clock.Now()
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditUpdate, "Payment failed: "+reason); err != nil {
		return cur, false, err
	}

	unwindErr := e.unwind(ctx, next, payload.Actor, reason)
	e.notify(ctx, models.NotificationPaymentFailed, next, reason)
	return next, true, unwindErr
}

// unwind releases a failed payment's holds and cancels its booking. Both
// steps are idempotent.
func (e *Engine) unwind(ctx context.Context, p models.Payment, actor models.Actor, reason string) error {
	booking, ok := e.booking(p.BookingID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, p.BookingID)
	}

	var errs []error
	for _, line := range booking.Rooms {
		if line.HoldID == "" {
			continue
		}
		_, err := e.holds.ReleaseHold(ctx, line.HoldID, reason, actor)
		switch {
		case errors.Is(err, ErrHoldAlreadyResolved):
			e.logger.Warn("Hold of failed payment is committed",
				zap.String("hold_id", line.HoldID),
				zap.String("payment_id", p.ID))
		case err != nil:
			errs = append(errs, err)
		}
	}
	if err := e.ensureBookingStatus(ctx, p.BookingID, models.BookingStatusCancelled, models.AuditCancel, actor, "Booking cancelled: "+reason); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) applyVerify(ctx context.Context, cur models.Payment, payload TransitionPayload) (models.Payment, bool, error) {
	if cur.Status != models.PaymentStatusPaid {
		return cur, false, fmt.Errorf("%w: only paid payments can be verified, payment is %s", ErrInvalidTransition, cur.Status)
	}
	if payload.Actor.ID == "" {
		return cur, false, fmt.Errorf("%w: verification needs an actor", ErrInvalidRequest)
	}
	switch cur.VerificationStatus {
	case models.VerificationVerified:
		return cur, false, nil
	case models.VerificationFlagged:
		return cur, false, fmt.Errorf("%w: payment %s is flagged", ErrInvalidTransition, cur.ID)
	}

	now := e.clock.Now()
	by := payload.Actor.ID
	next := cur.Clone()
	next.VerificationStatus = models.VerificationVerified
	next.VerifiedBy = &by
	next.VerifiedAt = &now
	next.UpdatedAt = now
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditVerify, "Payment verified"); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

func (e *Engine) applyFlag(ctx context.Context, cur models.Payment, payload TransitionPayload) (models.Payment, bool, error) {
	if cur.Status != models.PaymentStatusPaid {
		return cur, false, fmt.Errorf("%w: only paid payments can be flagged, payment is %s", ErrInvalidTransition, cur.Status)
	}
	if payload.Reason == "" {
		return cur, false, fmt.Errorf("%w: flagging needs a reason", ErrInvalidRequest)
	}
	switch cur.VerificationStatus {
	case models.VerificationFlagged:
		return cur, false, nil
	case models.VerificationVerified:
		return cur, false, fmt.Errorf("%w: payment %s is verified", ErrInvalidTransition, cur.ID)
	}

	next := cur.Clone()
	next.VerificationStatus = models.VerificationFlagged
	next.FlagReason = payload.Reason
	next.UpdatedAt = e.clock.Now()
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditFlag, "Payment flagged: "+payload.Reason); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

func (e *Engine) applyNote(ctx context.Context, cur models.Payment, payload TransitionPayload) (models.Payment, bool, error) {
	if cur.Status != models.PaymentStatusPaid {
		return cur, false, fmt.Errorf("%w: notes can only be added to paid payments, payment is %s", ErrInvalidTransition, cur.Status)
	}
	text := payload.Note
	if text == "" {
		return cur, false, fmt.Errorf("%w: note text is required", ErrInvalidRequest)
	}

	now := e.clock.Now()
	next := cur.Clone()
	next.Notes = append(next.Notes, models.PaymentNote{
		AuthorID:  payload.Actor.ID,
		Author:    payload.Actor.Name,
		Text:      text,
		CreatedAt: now,
	})
	next.UpdatedAt = now
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditNote, "Note added"); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

func (e *Engine) applyRefund(ctx context.Context, cur models.Payment, payload TransitionPayload) (models.Payment, bool, error) {
	switch {
	case cur.Status == models.PaymentStatusRefunded:
		return cur, false, nil
	case cur.Status != models.PaymentStatusPaid:
		return cur, false, fmt.Errorf("%w: only paid payments can be refunded, payment is %s", ErrInvalidTransition, cur.Status)
	case cur.VerificationStatus == models.VerificationVerified:
		return cur, false, fmt.Errorf("%w: payment %s is verified and final", ErrInvalidTransition, cur.ID)
	}

	reason := payload.Reason
	if reason == "" {
		reason = "refunded"
	}
	next := cur.Clone()
	next.Status = models.PaymentStatusRefunded
	next.UpdatedAt = e.clock.Now()
	if err := e.apply(ctx, cur, next, payload.Actor, models.AuditUpdate, "Payment refunded: "+reason); err != nil {
		return cur, false, err
	}

	bookingErr := e.ensureBookingStatus(ctx, cur.BookingID, models.BookingStatusCancelled, models.AuditCancel, payload.Actor, "Booking cancelled: "+reason)
	e.notify(ctx, models.NotificationPaymentRefunded, next, reason)
	return next, true, bookingErr
}

// MarkAttention flags a payment for manual follow-up without changing its
// status. Repeating the same reason is a no-op.
func (e *Engine) MarkAttention(ctx context.Context, paymentID, reason string, actor models.Actor) (models.Payment, error) {
	unlock := e.locks.Lock(paymentID)
	defer unlock()

	cur, ok := e.payment(paymentID)
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	return e.markAttentionLocked(ctx, cur, reason, actor)
}

func (e *Engine) markAttentionLocked(ctx context.Context, cur models.Payment, reason string, actor models.Actor) (models.Payment, error) {
	if cur.NeedsAttention && len(cur.Notes) > 0 && cur.Notes[len(cur.Notes)-1].Text == reason {
		return cur, nil
	}

	now := e.clock.Now()
	next := cur.Clone()
	next.NeedsAttention = true
	next.Notes = append(next.Notes, models.PaymentNote{
		AuthorID:  actor.ID,
		Author:    actor.Name,
		Text:      reason,
		CreatedAt: now,
	})
	next.UpdatedAt = now
	if err := e.apply(ctx, cur, next, actor, models.AuditNote, "Needs attention: "+reason); err != nil {
		return cur, err
	}

	e.logger.Warn("Payment needs attention",
		zap.String("payment_id", cur.ID),
		zap.String("booking_id", cur.BookingID),
		zap.String("reason", reason))
	e.notify(ctx, models.NotificationPaymentAttention, next, reason)
	return next, nil
}

// ApplyProviderEvent maps a provider callback onto the state machine.
// Pending reports change nothing.
func (e *Engine) ApplyProviderEvent(ctx context.Context, ev models.ProviderEvent) (models.Payment, bool, error) {
	p, err := e.PaymentByBooking(ev.BookingID)
	if err != nil {
		return models.Payment{}, false, err
	}

	payload := TransitionPayload{Actor: models.ActorProvider, ProviderRef: ev.ProviderRef, Reason: ev.Reason}
	switch ev.Status {
	case models.ProviderStatusSucceeded:
		return e.transition(ctx, p.ID, EventProviderSucceeded, payload)
	case models.ProviderStatusFailed:
		return e.transition(ctx, p.ID, EventProviderFailed, payload)
	case models.ProviderStatusPending:
		return p, false, nil
	}
	return p, false, fmt.Errorf("%w: unknown provider status %q", ErrInvalidRequest, ev.Status)
}

// HandleHoldExpired fails the pending payment of the booking that owns the
// hold. Holds that merely carry a booking id without being one of its lines
// are ignored. It is registered as a HoldManager expiry hook.
func (e *Engine) HandleHoldExpired(ctx context.Context, hold models.ReservationHold) {
	booking, ok := e.booking(hold.BookingID)
	if !ok || !booking.OwnsHold(hold.ID) {
		return
	}
	p, err := e.PaymentByBooking(hold.BookingID)
	if err != nil || p.Status != models.PaymentStatusPending {
		return
	}
	_, err = e.Transition(ctx, p.ID, EventLeaseExpired, TransitionPayload{
		Actor:  models.ActorLeaseSweeper,
		Reason: "hold lease expired",
	})
	if err != nil {
		e.logger.Error("Failed to expire payment",
			zap.String("payment_id", p.ID),
			zap.String("hold_id", hold.ID),
			zap.Error(err))
	}
}

// HoldsLapsed reports whether any hold of the booking expired or was released.
func (e *Engine) HoldsLapsed(ctx context.Context, bookingID string) (bool, error) {
	booking, ok := e.booking(bookingID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	for _, line := range booking.Rooms {
		if line.HoldID == "" {
			continue
		}
		h, err := e.holds.GetHold(ctx, line.HoldID)
		if err != nil {
			return false, err
		}
		if !h.State.Occupies() {
			return true, nil
		}
	}
	return false, nil
}

// GetPayment returns a payment by id.
func (e *Engine) GetPayment(paymentID string) (models.Payment, error) {
	p, ok := e.payment(paymentID)
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	return p, nil
}

// PaymentByBooking returns the payment opened for a booking.
func (e *Engine) PaymentByBooking(bookingID string) (models.Payment, error) {
	e.mu.RLock()
	id, ok := e.byBooking[bookingID]
	e.mu.RUnlock()
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: no payment for booking %s", ErrPaymentNotFound, bookingID)
	}
	return e.GetPayment(id)
}

// GetBooking returns a booking by id.
func (e *Engine) GetBooking(bookingID string) (models.Booking, error) {
	b, ok := e.booking(bookingID)
	if !ok {
		return models.Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	return b, nil
}

// ListPayments returns matching payments, oldest first.
func (e *Engine) ListPayments(filter PaymentFilter) []models.Payment {
	e.mu.RLock()
	out := make([]models.Payment, 0, len(e.payments))
	for _, p := range e.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.AttentionOnly && !p.NeedsAttention {
			continue
		}
		out = append(out, p.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore rebuilds bookings and payments from the audit log.
func (e *Engine) Restore(ctx context.Context, log AuditLog) (int, error) {
	entries, err := log.List(ctx, models.AuditFilter{})
	if err != nil {
		return 0, fmt.Errorf("list audit entries: %w", err)
	}

	restored := 0
	for _, snap := range latestSnapshots(entries, models.EntityBooking) {
		var b models.Booking
		if err := json.Unmarshal(snap, &b); err != nil {
			return restored, fmt.Errorf("decode booking snapshot: %w", err)
		}
		e.putBooking(b)
		restored++
	}
	for _, snap := range latestSnapshots(entries, models.EntityPayment) {
		var p models.Payment
		if err := json.Unmarshal(snap, &p); err != nil {
			return restored, fmt.Errorf("decode payment snapshot: %w", err)
		}
		e.putPayment(p)
		restored++
	}
	return restored, nil
}

// ensureBookingStatus moves a booking to status unless it is already there.
func (e *Engine) ensureBookingStatus(ctx context.Context, bookingID string, status models.BookingStatus, action models.AuditAction, actor models.Actor, summary string) error {
	cur, ok := e.booking(bookingID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if cur.Status == status {
		return nil
	}

	next := cur.Clone()
	next.Status = status
	next.UpdatedAt = e.clock.Now()
	if err := e.audit.record(ctx, actor, action, models.EntityBooking, bookingID, cur, next, summary); err != nil {
		return err
	}
	e.putBooking(next)
	return nil
}

// apply writes the audit entry, then installs next. Nothing changes if the
// entry cannot be written.
func (e *Engine) apply(ctx context.Context, cur, next models.Payment, actor models.Actor, action models.AuditAction, summary string) error {
	if err := e.audit.record(ctx, actor, action, models.EntityPayment, cur.ID, cur, next, summary); err != nil {
		return err
	}
	e.putPayment(next)
	return nil
}

func (e *Engine) notify(ctx context.Context, eventType string, p models.Payment, reason string) {
	var guestID string
	if b, ok := e.booking(p.BookingID); ok {
		guestID = b.GuestID
	}

	n := models.Notification{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: e.clock.Now(),
		},
		BookingID: p.BookingID,
		PaymentID: p.ID,
		GuestID:   guestID,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reason:    reason,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		util.NotificationFailuresTotal.Inc()
		e.logger.Error("Failed to publish notification",
			zap.String("event_type", eventType),
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
}

func (e *Engine) payment(id string) (models.Payment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.payments[id]
	if !ok {
		return models.Payment{}, false
	}
	return p.Clone(), true
}

func (e *Engine) booking(id string) (models.Booking, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.bookings[id]
	if !ok {
		return models.Booking{}, false
	}
	return b.Clone(), true
}

func (e *Engine) putPayment(p models.Payment) {
	stored := p.Clone()
	e.mu.Lock()
	e.payments[p.ID] = &stored
	e.byBooking[p.BookingID] = p.ID
	e.mu.Unlock()
}

func (e *Engine) putBooking(b models.Booking) {
	stored := b.Clone()
	e.mu.Lock()
	e.bookings[b.ID] = &stored
	e.mu.Unlock()
}
