package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking-core/internal/audit"
	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/service"
	"booking-core/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type stubProvider struct {
	status models.ProviderStatus
}

func (p stubProvider) PaymentStatus(context.Context, string, string) (service.ProviderStatus, error) {
	return service.ProviderStatus{Status: p.status, ProviderRef: "ch_stub"}, nil
}

type testServer struct {
	router *gin.Engine
	engine *service.Engine
	log    *store.MemoryAuditLog
}

func newTestServer(t *testing.T, inv service.StaticInventory) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewManual(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	log := store.NewMemoryAuditLog()
	holds := service.NewHoldManager(inv, log, clk)
	engine := service.NewEngine(holds, log, clk, service.WithNotifier(service.LogNotifier{Logger: zap.NewNop()}))
	holds.OnExpired(engine.HandleHoldExpired)

	h := NewHandler(Deps{
		Holds:      holds,
		Engine:     engine,
		Reconciler: service.NewReconciler(engine, stubProvider{status: models.ProviderStatusSucceeded}, service.NewMemoryRetryQueue(), clk),
		Intake:     service.NewProviderEventIntake(engine, nil, 0),
		AuditLog:   log,
		JWTSecret:  testSecret,
	})
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, engine: engine, log: log}
}

func token(t *testing.T, actor models.Actor) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  actor.ID,
		"name": actor.Name,
		"role": actor.Role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

var (
	adminActor    = models.Actor{ID: "admin-7", Name: "Dana Admin", Role: models.RoleAdmin}
	guestActor    = models.Actor{ID: "guest-3", Name: "Eli Guest", Role: models.RoleGuest}
	providerActor = models.Actor{ID: "provider:acme", Name: "Acme Payments", Role: models.RoleProvider}
)

func (s *testServer) do(t *testing.T, method, path string, body interface{}, bearer string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func acquireBody(qty int) gin.H {
	return gin.H{"room_type_id": "cabin", "check_in": "2025-06-01", "check_out": "2025-06-03", "quantity": qty}
}

func TestHoldEndpoints(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{"cabin": 1})
	adminTok := token(t, adminActor)

	w, body := s.do(t, http.MethodPost, "/api/v1/hold/acquire", acquireBody(1), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	holdID, _ := body["hold_id"].(string)
	require.NotEmpty(t, holdID)
	assert.NotEmpty(t, body["expires_at"])

	w, body = s.do(t, http.MethodPost, "/api/v1/hold/acquire", acquireBody(1), "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, codeInsufficientAvailability, body["code"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/hold/"+holdID+"/commit", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/hold/"+holdID+"/release", nil, token(t, guestActor))
	assert.Equal(t, http.StatusForbidden, w.Code)

	for i := 0; i < 2; i++ {
		w, body = s.do(t, http.MethodPost, "/api/v1/hold/"+holdID+"/commit", nil, adminTok)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", body["outcome"])
	}

	w, body = s.do(t, http.MethodPost, "/api/v1/hold/"+holdID+"/release", gin.H{"reason": "late"}, adminTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_resolved", body["outcome"])
	hold := body["hold"].(map[string]interface{})
	assert.Equal(t, string(models.HoldStateCommitted), hold["state"])

	w, body = s.do(t, http.MethodPost, "/api/v1/hold/missing/commit", nil, adminTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, body["code"])

	w, body = s.do(t, http.MethodGet, "/api/v1/availability?room_type_id=cabin&check_in=2025-06-01&check_out=2025-06-02", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["available"])
}

func TestAcquireGuards(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{"cabin": 1})

	long := acquireBody(1)
	long["lease_seconds"] = 2000000000
	w, body := s.do(t, http.MethodPost, "/api/v1/hold/acquire", long, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidRequest, body["code"])

	tagged := acquireBody(1)
	tagged["booking_id"] = "someone-elses-booking"
	w, body = s.do(t, http.MethodPost, "/api/v1/hold/acquire", tagged, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeForbidden, body["code"])
	w, _ = s.do(t, http.MethodPost, "/api/v1/hold/acquire", tagged, token(t, guestActor))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/hold/acquire", tagged, token(t, adminActor))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAcquireRejectsBadDates(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{"cabin": 1})

	w, body := s.do(t, http.MethodPost, "/api/v1/hold/acquire",
		gin.H{"room_type_id": "cabin", "check_in": "June first", "check_out": "2025-06-03", "quantity": 1}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidRequest, body["code"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/hold/acquire",
		gin.H{"room_type_id": "cabin", "check_in": "2025-06-03", "check_out": "2025-06-03", "quantity": 1}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingPaymentFlow(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{"cabin": 1})
	guestTok := token(t, guestActor)
	adminTok := token(t, adminActor)
	providerTok := token(t, providerActor)

	w, body := s.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"rooms":     []gin.H{{"room_type_id": "cabin", "quantity": 1}},
		"check_in":  "2025-06-01",
		"check_out": "2025-06-03",
		"amount":    42000,
	}, guestTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res service.OpenBookingResult
	raw, _ := json.Marshal(body)
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, guestActor.ID, res.Booking.GuestID)
	paymentPath := "/api/v1/payment/" + res.Payment.ID

	t.Run("guests cannot transition", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPost, paymentPath+"/transition", gin.H{"event": "VERIFY"}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		w, _ = s.do(t, http.MethodPost, paymentPath+"/transition", gin.H{"event": "VERIFY"}, guestTok)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("verify pending is rejected", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, paymentPath+"/transition", gin.H{"event": "VERIFY"}, adminTok)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, codeInvalidTransition, body["code"])
	})

	t.Run("webhook needs the provider", func(t *testing.T) {
		ev := gin.H{"event_id": "evt-forged", "booking_id": res.Booking.ID, "status": "succeeded"}
		w, body := s.do(t, http.MethodPost, "/api/v1/webhooks/provider", ev, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, codeUnauthorized, body["code"])
		w, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/provider", ev, guestTok)
		assert.Equal(t, http.StatusForbidden, w.Code)

		p, err := s.engine.GetPayment(res.Payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, p.Status)
		b, err := s.engine.GetBooking(res.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusPendingPayment, b.Status)
	})

	t.Run("webhook confirms", func(t *testing.T) {
		ev := gin.H{"event_id": "evt-1", "booking_id": res.Booking.ID, "status": "succeeded", "provider_ref": "ch_1"}
		w, body := s.do(t, http.MethodPost, "/api/v1/webhooks/provider", ev, providerTok)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "accepted", body["outcome"])

		p, err := s.engine.GetPayment(res.Payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, p.Status)

		w, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/provider", ev, providerTok)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("admin verifies twice", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			w, body := s.do(t, http.MethodPost, paymentPath+"/transition", gin.H{"event": "VERIFY"}, adminTok)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			p := body["payment"].(map[string]interface{})
			assert.Equal(t, string(models.VerificationVerified), p["verification_status"])
		}
	})

	t.Run("reconcile after settlement", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, paymentPath+"/reconcile", nil, adminTok)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.ReconcileUnchanged, body["outcome"])
	})

	t.Run("audit trail", func(t *testing.T) {
		w, _ := s.do(t, http.MethodGet, "/api/v1/audit", nil, guestTok)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w, _ = s.do(t, http.MethodGet, "/api/v1/audit?entity=Payment&entity_id="+res.Payment.ID, nil, adminTok)
		require.Equal(t, http.StatusOK, w.Code)

		var page audit.Page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.NotEmpty(t, page.Groups)
		// newest first: the admin's verification leads
		assert.Equal(t, adminActor.ID, page.Groups[0].Actor.ID)
		assert.Equal(t, models.AuditVerify, page.Groups[0].Entries[0].Action)
		assert.Equal(t, 3, page.TotalGroups)

		w, _ = s.do(t, http.MethodGet, "/api/v1/audit?page=0", nil, adminTok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestActorMiddlewareRejectsBadTokens(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{"cabin": 1})

	w, body := s.do(t, http.MethodGet, "/api/v1/hold/x", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, body["code"])

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin", "role": "admin"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodGet, "/api/v1/payments", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, service.StaticInventory{})
	w, body := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}
