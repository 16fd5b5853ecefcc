package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbande/biskato/internal/config"
)

const testAdminSecret = "test-admin-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Port:              "8080",
		Env:               "development",
		LogLevel:          "error",
		LogFormat:         "text",
		MinOrderAmount:    "100",
		MaxOrderAmount:    "5000000",
		AutoReleaseWindow: 72 * time.Hour,
		OutboxInterval:    time.Hour, // drained manually in tests
		ReconcileInterval: time.Hour,
		AdminSecret:       testAdminSecret,
		ReceiptSigningKey: "test-signing-key",
	}

	srv, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() {
		if srv.rateLimiter != nil {
			srv.rateLimiter.Stop()
		}
	})
	return srv
}

type reqOpts struct {
	userID string
	admin  bool
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, opts reqOpts) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if opts.userID != "" {
		req.Header.Set("X-User-ID", opts.userID)
	}
	if opts.admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.relay.Start()
	defer srv.relay.Stop()

	w := doJSON(t, srv, http.MethodGet, "/health", nil, reqOpts{})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])

	w = doJSON(t, srv, http.MethodGet, "/health/live", nil, reqOpts{})
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run() has started
	w = doJSON(t, srv, http.MethodGet, "/health/ready", nil, reqOpts{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthDegradedWhenRelayStopped(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil, reqOpts{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api", nil, reqOpts{})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Biskato", body["name"])
	assert.Equal(t, "Kz", body["currency"])
}

func TestIdentityRequired(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/orders", nil, reqOpts{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/orders", nil, reqOpts{userID: "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/orders", nil, reqOpts{userID: "buyer-1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminSecretRequired(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/admin/orders/ord_missing/pay", nil, reqOpts{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/orders/ord_missing/pay", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, req)
	assert.Equal(t, http.StatusForbidden, w2.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/admin/orders/ord_missing/pay", nil, reqOpts{admin: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicListingBrowsing(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/listings", map[string]string{
		"title":    "Plumbing repair",
		"category": "repairs",
		"price":    "5000.00",
	}, reqOpts{userID: "seller-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	// Browsing needs no identity
	w = doJSON(t, srv, http.MethodGet, "/v1/listings", nil, reqOpts{})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
}

// TestOrderLifecycle drives a full order through the HTTP API: listing,
// order, payment callback, delivery, confirmation, then verifies the
// ledger, wallet, receipt and notifications after draining the outbox.
func TestOrderLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	seller := reqOpts{userID: "seller-1"}
	buyer := reqOpts{userID: "buyer-1"}
	admin := reqOpts{admin: true}

	// Seller publishes a listing
	w := doJSON(t, srv, http.MethodPost, "/v1/listings", map[string]string{
		"title":    "Motorbike delivery",
		"category": "transport",
		"price":    "2500.00",
	}, seller)
	require.Equal(t, http.StatusCreated, w.Code)
	listing := decodeBody(t, w)["listing"].(map[string]interface{})
	listingID := listing["id"].(string)

	// Buyer places an order
	w = doJSON(t, srv, http.MethodPost, "/v1/orders", map[string]string{
		"listingId":    listingID,
		"requirements": "Pick up at the market entrance",
	}, buyer)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decodeBody(t, w)["order"].(map[string]interface{})
	orderID := order["id"].(string)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "2500.00", order["amount"])

	// Payment gateway confirms via the admin callback
	w = doJSON(t, srv, http.MethodPost, "/v1/admin/orders/"+orderID+"/pay", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	order = decodeBody(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "paid", order["status"])

	// Buyer now sees the escrow hold going out
	w = doJSON(t, srv, http.MethodGet, "/v1/wallet", nil, buyer)
	require.Equal(t, http.StatusOK, w.Code)
	balance := decodeBody(t, w)["balance"].(map[string]interface{})
	assert.Equal(t, "2500.00", balance["pendingOut"])

	// Seller delivers, buyer confirms
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/deliver", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/confirm", nil, buyer)
	require.Equal(t, http.StatusOK, w.Code)
	order = decodeBody(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "delivered", order["status"])
	assert.Equal(t, "released", order["outcome"])

	// Drain the outbox so the ledger, receipt and notifications catch up
	srv.relay.Drain(ctx)

	// Seller got paid
	w = doJSON(t, srv, http.MethodGet, "/v1/wallet", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)
	balance = decodeBody(t, w)["balance"].(map[string]interface{})
	assert.Equal(t, "2500.00", balance["available"])

	// Seller sees the payout in their transaction history
	w = doJSON(t, srv, http.MethodGet, "/v1/transactions", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])

	// Receipt is publicly verifiable by order
	w = doJSON(t, srv, http.MethodGet, "/v1/orders/"+orderID+"/receipt", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	receipt := decodeBody(t, w)["receipt"].(map[string]interface{})
	assert.Equal(t, "released", receipt["outcome"])
	assert.NotEmpty(t, receipt["signature"])

	// Both parties were notified
	w = doJSON(t, srv, http.MethodGet, "/v1/notifications", nil, buyer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	w = doJSON(t, srv, http.MethodGet, "/v1/notifications", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	// Buyer rates the completed order
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/rate", map[string]interface{}{
		"stars":   5,
		"comment": "Fast and careful",
	}, buyer)
	require.Equal(t, http.StatusOK, w.Code)

	// Books balance after settlement
	result, err := srv.reconcileRunner.RunAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Clean())
}

// TestDisputeLifecycle opens a dispute after delivery and resolves it with
// a partial refund, then checks both sides of the split landed.
func TestDisputeLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	seller := reqOpts{userID: "seller-2"}
	buyer := reqOpts{userID: "buyer-2"}
	admin := reqOpts{admin: true}

	w := doJSON(t, srv, http.MethodPost, "/v1/listings", map[string]string{
		"title":    "House painting",
		"category": "repairs",
		"price":    "10000.00",
	}, seller)
	require.Equal(t, http.StatusCreated, w.Code)
	listingID := decodeBody(t, w)["listing"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/v1/orders", map[string]string{"listingId": listingID}, buyer)
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decodeBody(t, w)["order"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/v1/admin/orders/"+orderID+"/pay", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/deliver", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)

	// Buyer disputes instead of confirming
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/dispute", map[string]string{
		"reason":  "work_incomplete",
		"details": "Only two walls were painted",
	}, buyer)
	require.Equal(t, http.StatusOK, w.Code)

	// Evidence from both parties
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/evidence", map[string]string{
		"text": "Photos show unpainted walls",
	}, buyer)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodPost, "/v1/orders/"+orderID+"/evidence", map[string]string{
		"text": "The remaining walls were excluded in chat",
	}, seller)
	require.Equal(t, http.StatusOK, w.Code)

	// Admin resolves with a partial refund
	w = doJSON(t, srv, http.MethodPost, "/v1/admin/orders/"+orderID+"/resolve", map[string]string{
		"decision":   "partial_refund",
		"buyerShare": "4000.00",
		"notes":      "split per evidence",
	}, admin)
	require.Equal(t, http.StatusOK, w.Code)
	order := decodeBody(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "delivered", order["status"])
	assert.Equal(t, "split", order["outcome"])

	srv.relay.Drain(ctx)

	w = doJSON(t, srv, http.MethodGet, "/v1/wallet", nil, seller)
	require.Equal(t, http.StatusOK, w.Code)
	balance := decodeBody(t, w)["balance"].(map[string]interface{})
	assert.Equal(t, "6000.00", balance["available"])

	w = doJSON(t, srv, http.MethodGet, "/v1/wallet", nil, buyer)
	require.Equal(t, http.StatusOK, w.Code)
	balance = decodeBody(t, w)["balance"].(map[string]interface{})
	assert.Equal(t, "4000.00", balance["credit"])

	result, err := srv.reconcileRunner.RunAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Clean())
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}

func TestManualReconcile(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/admin/reconcile", nil, reqOpts{admin: true})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["holdsBalanced"])
}
