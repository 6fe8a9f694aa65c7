package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"booking-core/internal/audit"
	"booking-core/internal/models"
	"booking-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the handler exposes.
type Deps struct {
	Holds      *service.HoldManager
	Engine     *service.Engine
	Reconciler *service.Reconciler
	Intake     *service.ProviderEventIntake
	AuditLog   service.AuditLog
	JWTSecret  string
	PageSize   int
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	holds      *service.HoldManager
	engine     *service.Engine
	reconciler *service.Reconciler
	intake     *service.ProviderEventIntake
	auditLog   service.AuditLog
	jwtSecret  string
	pageSize   int
	ready      func(ctx context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	pageSize := d.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Handler{
		holds:      d.Holds,
		engine:     d.Engine,
		reconciler: d.Reconciler,
		intake:     d.Intake,
		auditLog:   d.AuditLog,
		jwtSecret:  d.JWTSecret,
		pageSize:   pageSize,
		ready:      d.Ready,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(ActorMiddleware(h.jwtSecret))
	{
		v1.POST("/hold/acquire", h.acquireHold)
		v1.GET("/hold/:id", h.getHold)
		v1.POST("/hold/:id/commit", RequireRole(models.RoleAdmin, models.RoleSystem), h.commitHold)
		v1.POST("/hold/:id/release", RequireRole(models.RoleAdmin, models.RoleSystem), h.releaseHold)
		v1.GET("/availability", h.availability)

		v1.POST("/bookings", h.openBooking)
		v1.GET("/bookings/:id", h.getBooking)

		v1.GET("/payment/:id", h.getPayment)
		v1.POST("/payment/:id/transition", RequireRole(models.RoleAdmin, models.RoleSystem), h.transitionPayment)
		v1.POST("/payment/:id/reconcile", RequireRole(models.RoleAdmin, models.RoleSystem), h.reconcilePayment)
		v1.GET("/payments", RequireRole(models.RoleAdmin), h.listPayments)

		v1.GET("/audit", RequireRole(models.RoleAdmin), h.queryAudit)

		v1.POST("/webhooks/provider", RequireRole(models.RoleProvider, models.RoleSystem), h.providerWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type acquireHoldRequest struct {
	RoomTypeID   string `json:"room_type_id"`
	CheckIn      string `json:"check_in"`
	CheckOut     string `json:"check_out"`
	Quantity     int    `json:"quantity"`
	BookingID    string `json:"booking_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

func (h *Handler) acquireHold(c *gin.Context) {
	var req acquireHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	r, err := parseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		respondError(c, err)
		return
	}
	actor := actorFrom(c)
	// booking holds are taken by the engine; tagging one by hand is an operator action
	if req.BookingID != "" && actor.Role != models.RoleAdmin && actor.Role != models.RoleSystem {
		writeError(c, http.StatusForbidden, codeForbidden, "only operators may attach a hold to a booking")
		return
	}

	hold, err := h.holds.AcquireHold(c.Request.Context(), service.AcquireHoldInput{
		RoomTypeID: req.RoomTypeID,
		Range:      r,
		Quantity:   req.Quantity,
		BookingID:  req.BookingID,
		Lease:      time.Duration(req.LeaseSeconds) * time.Second,
		Actor:      actor,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt,
		"hold":       hold,
	})
}

func (h *Handler) getHold(c *gin.Context) {
	hold, err := h.holds.GetHold(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

func (h *Handler) commitHold(c *gin.Context) {
	hold, err := h.holds.CommitHold(c.Request.Context(), c.Param("id"), actorFrom(c))
	h.writeResolution(c, hold, err)
}

type releaseHoldRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) releaseHold(c *gin.Context) {
	var req releaseHoldRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
			return
		}
	}
	hold, err := h.holds.ReleaseHold(c.Request.Context(), c.Param("id"), req.Reason, actorFrom(c))
	h.writeResolution(c, hold, err)
}

// writeResolution answers a commit or release. An already resolved hold
// is reported with its current state, not as an error.
func (h *Handler) writeResolution(c *gin.Context, hold models.ReservationHold, err error) {
	switch {
	case errors.Is(err, service.ErrHoldAlreadyResolved):
		c.JSON(http.StatusOK, gin.H{"hold": hold, "outcome": "already_resolved"})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"hold": hold, "outcome": "ok"})
	}
}

func (h *Handler) availability(c *gin.Context) {
	r, err := parseRange(c.Query("check_in"), c.Query("check_out"))
	if err != nil {
		respondError(c, err)
		return
	}
	avail, err := h.holds.Availability(c.Request.Context(), c.Query("room_type_id"), r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

type openBookingRequest struct {
	GuestID      string               `json:"guest_id"`
	Rooms        []models.BookingRoom `json:"rooms"`
	CheckIn      string               `json:"check_in"`
	CheckOut     string               `json:"check_out"`
	Amount       int64                `json:"amount"`
	Currency     string               `json:"currency"`
	ProviderRef  string               `json:"provider_ref"`
	LeaseSeconds int                  `json:"lease_seconds"`
}

func (h *Handler) openBooking(c *gin.Context) {
	var req openBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	r, err := parseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		respondError(c, err)
		return
	}

	actor := actorFrom(c)
	guestID := req.GuestID
	if guestID == "" || actor.Role == models.RoleGuest {
		// guests always book for themselves
		guestID = actor.ID
	}

	res, err := h.engine.OpenBooking(c.Request.Context(), service.OpenBookingInput{
		GuestID:     guestID,
		Rooms:       req.Rooms,
		Range:       r,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProviderRef: req.ProviderRef,
		Lease:       time.Duration(req.LeaseSeconds) * time.Second,
		Actor:       actor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) getBooking(c *gin.Context) {
	booking, err := h.engine.GetBooking(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"booking": booking}
	if p, err := h.engine.PaymentByBooking(booking.ID); err == nil {
		resp["payment"] = p
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getPayment(c *gin.Context) {
	p, err := h.engine.GetPayment(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

func (h *Handler) listPayments(c *gin.Context) {
	filter := service.PaymentFilter{
		Status:        models.PaymentStatus(c.Query("status")),
		AttentionOnly: c.Query("attention") == "true",
	}
	payments := h.engine.ListPayments(filter)
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

type transitionRequest struct {
	Event   service.PaymentEvent `json:"event"`
	Payload struct {
		ProviderRef string `json:"provider_ref"`
		Reason      string `json:"reason"`
		Note        string `json:"note"`
	} `json:"payload"`
}

func (h *Handler) transitionPayment(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Event == "" {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "event is required")
		return
	}

	actor := actorFrom(c)
	if req.Event.AdminOnly() && actor.Role != models.RoleAdmin {
		writeError(c, http.StatusForbidden, codeForbidden, fmt.Sprintf("%s requires an administrator", req.Event))
		return
	}

	p, err := h.engine.Transition(c.Request.Context(), c.Param("id"), req.Event, service.TransitionPayload{
		Actor:       actor,
		ProviderRef: req.Payload.ProviderRef,
		Reason:      req.Payload.Reason,
		Note:        req.Payload.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

func (h *Handler) reconcilePayment(c *gin.Context) {
	p, err := h.engine.GetPayment(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.reconciler.Reconcile(c.Request.Context(), p.BookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// queryAudit returns the matching audit trail, newest first, as actor
// groups with rendered changes.
func (h *Handler) queryAudit(c *gin.Context) {
	page, err := positiveQuery(c, "page", 1)
	if err != nil {
		respondError(c, err)
		return
	}
	size, err := positiveQuery(c, "page_size", h.pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	entries, err := h.auditLog.List(c.Request.Context(), models.AuditFilter{
		EntityType: models.EntityType(c.Query("entity")),
		EntityID:   c.Query("entity_id"),
		ActorID:    c.Query("actor"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	c.JSON(http.StatusOK, audit.Present(entries, page, size))
}

type webhookRequest struct {
	EventID     string                `json:"event_id"`
	BookingID   string                `json:"booking_id"`
	ProviderRef string                `json:"provider_ref"`
	Status      models.ProviderStatus `json:"status"`
	Reason      string                `json:"reason"`
}

// providerWebhook accepts provider callbacks. A rejected transition is
// acknowledged with 200 so the provider stops redelivering; the payment is
// already flagged for attention.
func (h *Handler) providerWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	p, duplicate, err := h.intake.Handle(c.Request.Context(), models.ProviderEvent{
		EventID:     req.EventID,
		BookingID:   req.BookingID,
		ProviderRef: req.ProviderRef,
		Status:      req.Status,
		Reason:      req.Reason,
		OccurredAt:  time.Now().UTC(),
	})
	switch {
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusOK, gin.H{"payment": p, "outcome": "rejected", "error": err.Error()})
	case err != nil:
		respondError(c, err)
	case duplicate:
		c.JSON(http.StatusOK, gin.H{"payment": p, "outcome": "duplicate"})
	default:
		c.JSON(http.StatusOK, gin.H{"payment": p, "outcome": "accepted"})
	}
}

// parseRange accepts dates as 2006-01-02 or RFC 3339 timestamps.
func parseRange(checkIn, checkOut string) (models.DateRange, error) {
	in, err := parseDate(checkIn)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("%w: check_in: %v", service.ErrInvalidRequest, err)
	}
	out, err := parseDate(checkOut)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("%w: check_out: %v", service.ErrInvalidRequest, err)
	}
	r := models.DateRange{CheckIn: in, CheckOut: out}
	if !r.Valid() {
		return models.DateRange{}, fmt.Errorf("%w: check_out must be after check_in", service.ErrInvalidRequest)
	}
	return r, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func positiveQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", service.ErrInvalidRequest, key)
	}
	return n, nil
}
