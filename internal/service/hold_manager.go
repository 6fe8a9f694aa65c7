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

const (
	defaultHoldLease = 15 * time.Minute
	defaultMaxLease  = time.Hour
)

// InventoryLookup resolves the physical quantity of a room type.
type InventoryLookup interface {
	RoomInventory(ctx context.Context, roomTypeID string) (models.RoomInventory, error)
}

// ExpiredHook is called once for every hold moved to EXPIRED.
type ExpiredHook func(ctx context.Context, hold models.ReservationHold)

// Availability is the occupancy of one room type over a date range.
type Availability struct {
	RoomTypeID string           `json:"room_type_id"`
	Range      models.DateRange `json:"range"`
	Total      int              `json:"total"`
	Held       int              `json:"held"`
	Available  int              `json:"available"`
}

// AcquireHoldInput describes a hold request.
type AcquireHoldInput struct {
	RoomTypeID string
	Range      models.DateRange
	Quantity   int
	BookingID  string
	Lease      time.Duration
	Actor      models.Actor
}

// roomPartition owns every hold of one room type. All availability
// decisions for the room type happen under mu.
type roomPartition struct {
	mu    sync.Mutex
	holds map[string]*models.ReservationHold
}

// HoldManager grants and resolves leased reservations of room inventory.
type HoldManager struct {
	inventory    InventoryLookup
	audit        *auditRecorder
	clock        clock.Clock
	logger       *zap.Logger
	defaultLease time.Duration
	maxLease     time.Duration

	partitionsMu sync.Mutex
	partitions   map[string]*roomPartition
	index        sync.Map // hold id -> room type id

	hooksMu sync.RWMutex
	hooks   []ExpiredHook
	hooksWG sync.WaitGroup
}

// HoldManagerOption customizes a HoldManager.
type HoldManagerOption func(*HoldManager)

// WithDefaultLease sets the lease used when a request does not carry one.
func WithDefaultLease(d time.Duration) HoldManagerOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.defaultLease = d
		}
	}
}

// WithMaxLease caps the lease a request may ask for.
func WithMaxLease(d time.Duration) HoldManagerOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.maxLease = d
		}
	}
}

// WithHoldLogger overrides the component logger.
func WithHoldLogger(l *zap.Logger) HoldManagerOption {
	return func(m *HoldManager) {
		m.logger = l
	}
}

// NewHoldManager creates a hold manager.
func NewHoldManager(inventory InventoryLookup, log AuditLog, clk clock.Clock, opts ...HoldManagerOption) *HoldManager {
	m := &HoldManager{
		inventory:    inventory,
		clock:        clk,
		logger:       util.ComponentLogger("holds"),
		defaultLease: defaultHoldLease,
		maxLease:     defaultMaxLease,
		partitions:   make(map[string]*roomPartition),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.audit = newAuditRecorder(log, clk, m.logger)
	return m
}

// OnExpired registers a hook. Hooks run on their own goroutine after the
// room type lock is released, so they may call back into the manager.
func (m *HoldManager) OnExpired(hook ExpiredHook) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hooksMu.Unlock()
}

// WaitHooks blocks until every dispatched expiry hook has returned.
func (m *HoldManager) WaitHooks() {
	m.hooksWG.Wait()
}

// AcquireHold reserves quantity units of a room type for the range, or
// fails with ErrInsufficientAvailability. The capacity check and the
// insertion happen atomically per room type.
func (m *HoldManager) AcquireHold(ctx context.Context, in AcquireHoldInput) (models.ReservationHold, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.AcquireHold",
		trace.WithAttributes(
			attribute.String("room_type_id", in.RoomTypeID),
			attribute.Int("quantity", in.Quantity),
		))
	defer span.End()

	if in.RoomTypeID == "" || in.Quantity <= 0 || !in.Range.Valid() {
		util.HoldsRejectedTotal.WithLabelValues("invalid").Inc()
		return models.ReservationHold{}, fmt.Errorf("%w: room type, positive quantity and a non-empty range are required", ErrInvalidRequest)
	}

	inv, err := m.inventory.RoomInventory(ctx, in.RoomTypeID)
	if err != nil {
		util.HoldsRejectedTotal.WithLabelValues("unknown_room_type").Inc()
		return models.ReservationHold{}, err
	}

	lease := in.Lease
	if lease <= 0 {
		lease = min(m.defaultLease, m.maxLease)
	}
	if lease > m.maxLease {
		util.HoldsRejectedTotal.WithLabelValues("invalid").Inc()
		return models.ReservationHold{}, fmt.Errorf("%w: lease %s exceeds the maximum of %s", ErrInvalidRequest, lease, m.maxLease)
	}

	start := time.Now()
	defer func() {
		util.HoldAcquireLatency.Observe(time.Since(start).Seconds())
	}()

	var hold models.ReservationHold
	err = m.withPartition(ctx, in.RoomTypeID, func(p *roomPartition, now time.Time) error {
		held := p.heldLocked(in.Range)
		if inv.Quantity-held < in.Quantity {
			return fmt.Errorf("%w: room type %s has %d of %d units free, %d requested",
				ErrInsufficientAvailability, in.RoomTypeID, max(inv.Quantity-held, 0), inv.Quantity, in.Quantity)
		}

		candidate := models.ReservationHold{
			ID:         uuid.New().String(),
			RoomTypeID: in.RoomTypeID,
			CheckIn:    in.Range.CheckIn,
			CheckOut:   in.Range.CheckOut,
			Quantity:   in.Quantity,
			BookingID:  in.BookingID,
			State:      models.HoldStateActive,
			ExpiresAt:  now.Add(lease),
			CreatedAt:  now,
		}
		if err := m.audit.record(ctx, in.Actor, models.AuditCreate, models.EntityReservationHold,
			candidate.ID, nil, candidate, "Hold acquired"); err != nil {
			return err
		}

		p.holds[candidate.ID] = &candidate
		m.index.Store(candidate.ID, in.RoomTypeID)
		hold = candidate
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientAvailability):
			util.HoldsRejectedTotal.WithLabelValues("insufficient").Inc()
		case errors.Is(err, ErrAuditWrite):
			util.HoldsRejectedTotal.WithLabelValues("audit").Inc()
		}
		m.logger.Info("Hold rejected",
			zap.String("room_type_id", in.RoomTypeID),
			zap.Int("quantity", in.Quantity),
			zap.Error(err))
		return models.ReservationHold{}, err
	}

	util.HoldsAcquiredTotal.Inc()
	util.ActiveHolds.Inc()
	m.logger.Info("Hold acquired",
		zap.String("hold_id", hold.ID),
		zap.String("room_type_id", hold.RoomTypeID),
		zap.String("booking_id", hold.BookingID),
		zap.Int("quantity", hold.Quantity),
		zap.Time("expires_at", hold.ExpiresAt))
	return hold, nil
}

// CommitHold makes an active hold permanent. Committing a committed hold
// is a no-op; committing a released or expired hold returns the hold
// together with ErrHoldAlreadyResolved.
func (m *HoldManager) CommitHold(ctx context.Context, holdID string, actor models.Actor) (models.ReservationHold, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.CommitHold")
	defer span.End()

	return m.resolve(ctx, holdID, func(h models.ReservationHold, now time.Time) (models.ReservationHold, bool, error) {
		switch h.State {
		case models.HoldStateCommitted:
			return h, false, nil
		case models.HoldStateReleased, models.HoldStateExpired:
			return h, false, fmt.Errorf("%w: hold %s is %s", ErrHoldAlreadyResolved, h.ID, h.State)
		}
		h.State = models.HoldStateCommitted
		h.ResolvedAt = &now
		return h, true, nil
	}, actor, "Hold committed")
}

// ReleaseHold gives an active hold's inventory back. Releasing a released
// or expired hold is a no-op; releasing a committed hold returns the hold
// together with ErrHoldAlreadyResolved.
func (m *HoldManager) ReleaseHold(ctx context.Context, holdID, reason string, actor models.Actor) (models.ReservationHold, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.ReleaseHold")
	defer span.End()

	return m.resolve(ctx, holdID, func(h models.ReservationHold, now time.Time) (models.ReservationHold, bool, error) {
		switch h.State {
		case models.HoldStateReleased, models.HoldStateExpired:
			return h, false, nil
		case models.HoldStateCommitted:
			return h, false, fmt.Errorf("%w: hold %s is %s", ErrHoldAlreadyResolved, h.ID, h.State)
		}
		h.State = models.HoldStateReleased
		h.ReleaseReason = reason
		h.ResolvedAt = &now
		return h, true, nil
	}, actor, "Hold released")
}

// CommitHolds commits a set of holds all or nothing. Every room type
// involved is locked, in id order, for the whole check and commit, so no
// lease can lapse between the two. If any hold is released or expired,
// nothing is committed and ErrHoldAlreadyResolved is returned together with
// the current state of every hold.
func (m *HoldManager) CommitHolds(ctx context.Context, holdIDs []string, actor models.Actor) ([]models.ReservationHold, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.CommitHolds",
		trace.WithAttributes(attribute.Int("holds", len(holdIDs))))
	defer span.End()

	roomTypes := make([]string, 0, len(holdIDs))
	seen := make(map[string]bool, len(holdIDs))
	for _, id := range holdIDs {
		rt, ok := m.roomTypeOf(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
		}
		if !seen[rt] {
			seen[rt] = true
			roomTypes = append(roomTypes, rt)
		}
	}
	sort.Strings(roomTypes)

	parts := make(map[string]*roomPartition, len(roomTypes))
	for _, rt := range roomTypes {
		p := m.partition(rt)
		p.mu.Lock()
		parts[rt] = p
	}
	now := m.clock.Now()
	var expired []models.ReservationHold
	for _, rt := range roomTypes {
		expired = append(expired, m.expireLocked(ctx, parts[rt], now)...)
	}

	holds, committed, err := m.commitAllLocked(ctx, parts, holdIDs, now, actor)

	for i := len(roomTypes) - 1; i >= 0; i-- {
		parts[roomTypes[i]].mu.Unlock()
	}
	m.dispatchExpired(ctx, expired)

	for range committed {
		util.ActiveHolds.Dec()
		util.HoldsResolvedTotal.WithLabelValues(string(models.HoldStateCommitted)).Inc()
	}
	if len(committed) > 0 {
		m.logger.Info("Holds committed",
			zap.Strings("hold_ids", committed),
			zap.String("actor", actor.ID))
	}
	return holds, err
}

// commitAllLocked must be called with every partition in parts locked.
func (m *HoldManager) commitAllLocked(ctx context.Context, parts map[string]*roomPartition, holdIDs []string, now time.Time, actor models.Actor) ([]models.ReservationHold, []string, error) {
	current := make([]*models.ReservationHold, len(holdIDs))
	holds := make([]models.ReservationHold, len(holdIDs))
	var rejected error
	for i, id := range holdIDs {
		rt, _ := m.roomTypeOf(id)
		h, ok := parts[rt].holds[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrHoldNotFound, id)
		}
		current[i] = h
		holds[i] = *h
		if !h.State.Occupies() && rejected == nil {
			rejected = fmt.Errorf("%w: hold %s is %s", ErrHoldAlreadyResolved, h.ID, h.State)
		}
	}
	if rejected != nil {
		return holds, nil, rejected
	}

	var committed []string
	for i, h := range current {
		if h.State == models.HoldStateCommitted {
			continue
		}
		after := *h
		after.State = models.HoldStateCommitted
		resolvedAt := now
		after.ResolvedAt = &resolvedAt
		// a failed write leaves the rest active; committing again finishes the set
		if err := m.audit.record(ctx, actor, models.AuditUpdate, models.EntityReservationHold,
			h.ID, *h, after, "Hold committed"); err != nil {
			return holds, committed, err
		}
		*h = after
		holds[i] = after
		committed = append(committed, h.ID)
	}
	return holds, committed, nil
}

// resolveFunc computes the next state of a hold. changed=false means the
// current state is returned as is, with err describing a rejection.
type resolveFunc func(h models.ReservationHold, now time.Time) (next models.ReservationHold, changed bool, err error)

func (m *HoldManager) resolve(ctx context.Context, holdID string, next resolveFunc, actor models.Actor, summary string) (models.ReservationHold, error) {
	roomTypeID, ok := m.roomTypeOf(holdID)
	if !ok {
		return models.ReservationHold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}

	var result models.ReservationHold
	var changed bool
	err := m.withPartition(ctx, roomTypeID, func(p *roomPartition, now time.Time) error {
		current, ok := p.holds[holdID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
		}
		result = *current

		after, apply, err := next(*current, now)
		if err != nil || !apply {
			return err
		}
		if err := m.audit.record(ctx, actor, models.AuditUpdate, models.EntityReservationHold,
			holdID, *current, after, summary); err != nil {
			return err
		}
		*current = after
		result = after
		changed = true
		return nil
	})
	if err != nil {
		return result, err
	}

	if changed {
		util.ActiveHolds.Dec()
		util.HoldsResolvedTotal.WithLabelValues(string(result.State)).Inc()
		m.logger.Info("Hold resolved",
			zap.String("hold_id", holdID),
			zap.String("state", string(result.State)),
			zap.String("actor", actor.ID))
	}
	return result, nil
}

// GetHold returns the current state of a hold.
func (m *HoldManager) GetHold(ctx context.Context, holdID string) (models.ReservationHold, error) {
	roomTypeID, ok := m.roomTypeOf(holdID)
	if !ok {
		return models.ReservationHold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}

	var hold models.ReservationHold
	err := m.withPartition(ctx, roomTypeID, func(p *roomPartition, _ time.Time) error {
		h, ok := p.holds[holdID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
		}
		hold = *h
		return nil
	})
	return hold, err
}

// Availability reports how many units of a room type are free over a range.
func (m *HoldManager) Availability(ctx context.Context, roomTypeID string, r models.DateRange) (Availability, error) {
	if !r.Valid() {
		return Availability{}, fmt.Errorf("%w: empty date range", ErrInvalidRequest)
	}
	inv, err := m.inventory.RoomInventory(ctx, roomTypeID)
	if err != nil {
		return Availability{}, err
	}

	out := Availability{RoomTypeID: roomTypeID, Range: r, Total: inv.Quantity}
	err = m.withPartition(ctx, roomTypeID, func(p *roomPartition, _ time.Time) error {
		out.Held = p.heldLocked(r)
		return nil
	})
	out.Available = max(out.Total-out.Held, 0)
	return out, err
}

// SweepExpired moves every lapsed active hold to EXPIRED and returns how
// many were moved.
func (m *HoldManager) SweepExpired(ctx context.Context) int {
	total := 0
	for _, p := range m.snapshotPartitions() {
		p.mu.Lock()
		expired := m.expireLocked(ctx, p, m.clock.Now())
		p.mu.Unlock()

		m.dispatchExpired(ctx, expired)
		total += len(expired)
	}
	if total > 0 {
		m.logger.Info("Expired holds swept", zap.Int("count", total))
	}
	return total
}

// Restore rebuilds hold state from the audit log. It must run before the
// manager serves requests.
func (m *HoldManager) Restore(ctx context.Context, log AuditLog) (int, error) {
	entries, err := log.List(ctx, models.AuditFilter{EntityType: models.EntityReservationHold})
	if err != nil {
		return 0, fmt.Errorf("list hold audit entries: %w", err)
	}

	active := 0
	restored := 0
	for _, snap := range latestSnapshots(entries, models.EntityReservationHold) {
		var h models.ReservationHold
		if err := json.Unmarshal(snap, &h); err != nil {
			return restored, fmt.Errorf("decode hold snapshot: %w", err)
		}
		p := m.partition(h.RoomTypeID)
		p.mu.Lock()
		p.holds[h.ID] = &h
		p.mu.Unlock()
		m.index.Store(h.ID, h.RoomTypeID)

		if h.State == models.HoldStateActive {
			active++
		}
		restored++
	}
	util.ActiveHolds.Set(float64(active))
	return restored, nil
}

// withPartition runs fn under the room type lock after expiring lapsed
// holds, so no decision ever sees an active hold past its lease.
func (m *HoldManager) withPartition(ctx context.Context, roomTypeID string, fn func(p *roomPartition, now time.Time) error) error {
	p := m.partition(roomTypeID)

	p.mu.Lock()
	now := m.clock.Now()
	expired := m.expireLocked(ctx, p, now)
	err := fn(p, now)
	p.mu.Unlock()

	m.dispatchExpired(ctx, expired)
	return err
}

// expireLocked must be called with p.mu held.
func (m *HoldManager) expireLocked(ctx context.Context, p *roomPartition, now time.Time) []models.ReservationHold {
	var lapsed []*models.ReservationHold
	for _, h := range p.holds {
		if h.State == models.HoldStateActive && !now.Before(h.ExpiresAt) {
			lapsed = append(lapsed, h)
		}
	}
	if len(lapsed) == 0 {
		return nil
	}
	sort.Slice(lapsed, func(i, j int) bool {
		return lapsed[i].ExpiresAt.Before(lapsed[j].ExpiresAt)
	})

	expired := make([]models.ReservationHold, 0, len(lapsed))
	for _, h := range lapsed {
		after := *h
		after.State = models.HoldStateExpired
		after.ReleaseReason = "lease expired"
		resolvedAt := now
		after.ResolvedAt = &resolvedAt

		if err := m.audit.record(ctx, models.ActorLeaseSweeper, models.AuditUpdate, models.EntityReservationHold,
			h.ID, *h, after, "Hold lease expired"); err != nil {
			// stays active; the next pass retries
			continue
		}
		*h = after
		expired = append(expired, after)
		util.ActiveHolds.Dec()
		util.HoldsResolvedTotal.WithLabelValues(string(models.HoldStateExpired)).Inc()
	}
	return expired
}

func (m *HoldManager) dispatchExpired(ctx context.Context, expired []models.ReservationHold) {
	if len(expired) == 0 {
		return
	}
	m.hooksMu.RLock()
	hooks := append([]ExpiredHook(nil), m.hooks...)
	m.hooksMu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	hookCtx := context.WithoutCancel(ctx)
	m.hooksWG.Add(1)
	go func() {
		defer m.hooksWG.Done()
		for _, h := range expired {
			for _, hook := range hooks {
				hook(hookCtx, h)
			}
		}
	}()
}

func (m *HoldManager) partition(roomTypeID string) *roomPartition {
	m.partitionsMu.Lock()
	defer m.partitionsMu.Unlock()

	p, ok := m.partitions[roomTypeID]
	if !ok {
		p = &roomPartition{holds: make(map[string]*models.ReservationHold)}
		m.partitions[roomTypeID] = p
	}
	return p
}

func (m *HoldManager) snapshotPartitions() []*roomPartition {
	m.partitionsMu.Lock()
	defer m.partitionsMu.Unlock()

	out := make([]*roomPartition, 0, len(m.partitions))
	for _, p := range m.partitions {
		out = append(out, p)
	}
	return out
}

func (m *HoldManager) roomTypeOf(holdID string) (string, bool) {
	v, ok := m.index.Load(holdID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// heldLocked sums the quantity of occupying holds overlapping r.
func (p *roomPartition) heldLocked(r models.DateRange) int {
	held := 0
	for _, h := range p.holds {
		if h.State.Occupies() && h.Range().Overlaps(r) {
			held += h.Quantity
		}
	}
	return held
}
