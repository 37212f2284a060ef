package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepperslife/ticket-engine/api"
	"github.com/stepperslife/ticket-engine/store/memory"
)

const testSecret = "test-secret"

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := memory.New()
	handler := api.NewHandler(db.Inventory(), db.Allocation())
	srv := httptest.NewServer(api.NewRouter(handler, testSecret))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := api.NewAccessToken(testSecret, userID, role, 3600)
	require.NoError(t, err)
	return tok
}

func createTestTier(t *testing.T, srv *httptest.Server, capacity int) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tiers", "", map[string]any{
		"event_id":    "evt-1",
		"name":        "GA",
		"price_cents": 5000,
		"capacity":    capacity,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func createTestNode(t *testing.T, srv *httptest.Server, owner string, budget int) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/nodes", "", map[string]any{
		"event_id":         "evt-1",
		"organizer_id":     "org-1",
		"owner_user_id":    owner,
		"name":             "Seller " + owner,
		"commission_type":  "PERCENTAGE",
		"commission_value": "10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	if budget > 0 {
		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/nodes/"+id+"/topup", "", map[string]any{"delta": budget})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	return id
}

// =============================================================================
// TIER ENDPOINT TESTS
// =============================================================================

func TestAPI_TierLifecycle(t *testing.T) {
	srv := newTestServer(t)
	tierID := createTestTier(t, srv, 50)

	// Commit a sale
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tiers/"+tierID+"/sales", "",
		map[string]any{"quantity": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(30), body["sold"])
	assert.Equal(t, float64(20), body["available"])

	// Oversell is a conflict and reports what's left
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/tiers/"+tierID+"/sales", "",
		map[string]any{"quantity": 30})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["details"], "20 available")

	// Release some
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/tiers/"+tierID+"/releases", "",
		map[string]any{"quantity": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(20), body["sold"])

	// Shrinking capacity below sold is rejected
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/tiers/"+tierID+"/capacity", "",
		map[string]any{"capacity": 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown tier is a 404
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/tiers/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// NODE ENDPOINT TESTS
// =============================================================================

func TestAPI_NodeCreateAndReferral(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/nodes", "", map[string]any{
		"event_id":         "evt-1",
		"organizer_id":     "org-1",
		"owner_user_id":    "user-1",
		"name":             "Maria",
		"commission_type":  "PERCENTAGE",
		"commission_value": "12.5",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code := body["referral_code"].(string)
	require.NotEmpty(t, code)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/referral/"+code, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Maria", body["name"])
}

func TestAPI_InvalidCommissionSplit(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/nodes", "", map[string]any{
		"event_id":                      "evt-1",
		"organizer_id":                  "org-1",
		"owner_user_id":                 "user-1",
		"name":                          "Greedy",
		"commission_type":               "PERCENTAGE",
		"commission_value":              "10",
		"parent_commission_percent":     "70",
		"sub_seller_commission_percent": "40",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TRANSFER ENDPOINT TESTS
// =============================================================================

func TestAPI_TransferFlow(t *testing.T) {
	srv := newTestServer(t)

	fromID := createTestNode(t, srv, "alice", 100)
	toID := createTestNode(t, srv, "bob", 0)

	alice := token(t, "alice", "seller")
	bob := token(t, "bob", "seller")

	// Transfers require a token
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/transfers", "", map[string]any{
		"from_node_id": fromID, "to_node_id": toID, "quantity": 40,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Bob cannot move Alice's tickets
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/transfers", bob, map[string]any{
		"from_node_id": fromID, "to_node_id": toID, "quantity": 40,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Alice requests the transfer
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/transfers", alice, map[string]any{
		"from_node_id": fromID, "to_node_id": toID, "quantity": 40,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	transferID := body["id"].(string)
	assert.Equal(t, "PENDING", body["status"])

	// It shows up in Bob's pending list
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/nodes/"+toID+"/transfers/pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Only Bob may accept
	resp, _ = doJSON(t, http.MethodPost, srv.URL+fmt.Sprintf("/api/transfers/%s/accept", transferID), alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, srv.URL+fmt.Sprintf("/api/transfers/%s/accept", transferID), bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACCEPTED", body["status"])
	assert.Equal(t, float64(60), body["from_balance_after"])
	assert.Equal(t, float64(40), body["to_balance_after"])

	// A second accept is a conflict
	resp, _ = doJSON(t, http.MethodPost, srv.URL+fmt.Sprintf("/api/transfers/%s/accept", transferID), bob, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_AdminSweep(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/transfers/sweep", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["expired"])
}

// =============================================================================
// COMMISSION ENDPOINT TESTS
// =============================================================================

func TestAPI_RecordSaleAndSettlement(t *testing.T) {
	srv := newTestServer(t)
	nodeID := createTestNode(t, srv, "alice", 0)

	sale := map[string]any{
		"order_id":         "ord-1",
		"node_id":          nodeID,
		"quantity":         2,
		"unit_price_cents": 5000,
		"payment_method":   "CASH",
	}
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/commissions", "", sale)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Replay of the same order is a conflict
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/commissions", "", sale)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/nodes/"+nodeID+"/settlement", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "-90", body["net"])
	assert.Equal(t, float64(2), body["sold_tickets"])
	assert.Equal(t, float64(1), body["record_count"])
}

func TestAPI_RecordSale_BadPaymentMethod(t *testing.T) {
	srv := newTestServer(t)
	nodeID := createTestNode(t, srv, "alice", 0)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/commissions", "", map[string]any{
		"order_id":         "ord-1",
		"node_id":          nodeID,
		"quantity":         1,
		"unit_price_cents": 5000,
		"payment_method":   "BARTER",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// HIERARCHY ENDPOINT TESTS
// =============================================================================

func TestAPI_HierarchyAndCloning(t *testing.T) {
	srv := newTestServer(t)

	// A template with auto-assign
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/nodes", "", map[string]any{
		"organizer_id":              "org-1",
		"owner_user_id":             "lead",
		"name":                      "Promo Team",
		"commission_type":           "FIXED",
		"commission_value":          "2.50",
		"auto_assign_to_new_events": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Clone into a new event
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/hierarchy/clone", "", map[string]any{
		"organizer_id": "org-1",
		"event_id":     "evt-7",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The tree for evt-7 now holds the clone
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/hierarchy?organizer_id=org-1&event_id=evt-7", nil)
	require.NoError(t, err)
	hresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer hresp.Body.Close()
	require.Equal(t, http.StatusOK, hresp.StatusCode)

	var forest []map[string]any
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&forest))
	require.Len(t, forest, 1)
	node := forest[0]["node"].(map[string]any)
	assert.Equal(t, "Promo Team", node["name"])
	assert.Equal(t, "evt-7", node["event_id"])
}
