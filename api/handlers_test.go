package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warp/incentive-ledger/api"
	"github.com/warp/incentive-ledger/commission"
	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/maturity"
	"github.com/warp/incentive-ledger/order"
	"github.com/warp/incentive-ledger/redemption"
	"github.com/warp/incentive-ledger/reward"
	"github.com/warp/incentive-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	srv        *httptest.Server
	reconciler *maturity.Reconciler
}

// newTestServer wires the full stack over an in-memory database with a
// flat 10% commission rate. The background scheduler stays off; sweeps
// run through the reconciler.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	led := ledger.New(store)
	rates := commission.NewSchedule(ledger.MustParseDecimal("10"))
	commissionEngine := commission.NewEngine(led, rates)
	rewardEngine := reward.NewEngine(led)

	driver := order.NewDriver(store, commissionEngine, rewardEngine, order.NopNotifier{})
	reconciler := maturity.NewReconciler(led)

	scheduler := maturity.NewScheduler(reconciler, store)
	scheduler.Enabled = false

	handler := &api.Handler{
		Orders:     store,
		Driver:     driver,
		Ledger:     led,
		Commission: commissionEngine,
		Redemption: redemption.NewEngine(led),
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Rates:      rates,
		Runs:       store,
	}

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, reconciler: reconciler}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (ts *testServer) mustStatus(t *testing.T, method, path string, body any, want int) map[string]any {
	t.Helper()
	resp, decoded := ts.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d (body %v)", method, path, resp.StatusCode, want, decoded)
	}
	return decoded
}

// =============================================================================
// ORDER LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_OrderLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create the order.
	created := ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "agent_id": "agent-1", "subtotal": "500",
	}, http.StatusCreated)
	if created["status"] != "pending" {
		t.Errorf("status = %v, want pending", created["status"])
	}

	// Pay it: both sides lock.
	paid := ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "paid"}, http.StatusOK)
	if paid["commission_amount"] != "50" {
		t.Errorf("commission_amount = %v, want 50", paid["commission_amount"])
	}
	if paid["reward_points"] != "5" {
		t.Errorf("reward_points = %v, want 5", paid["reward_points"])
	}

	agentBal := ts.mustStatus(t, "GET", "/api/subjects/agent-1/balance?currency=money", nil, http.StatusOK)
	if agentBal["locked"] != "50" || agentBal["available"] != "0" {
		t.Errorf("agent balance = %v, want locked 50 / available 0", agentBal)
	}

	// Completion matures the commission, not the points.
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "shipped"}, http.StatusOK)
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "completed"}, http.StatusOK)

	agentBal = ts.mustStatus(t, "GET", "/api/subjects/agent-1/balance?currency=money", nil, http.StatusOK)
	if agentBal["available"] != "50" {
		t.Errorf("agent available = %v, want 50 after completion", agentBal["available"])
	}

	custBal := ts.mustStatus(t, "GET", "/api/subjects/cust-1/balance", nil, http.StatusOK)
	if custBal["locked"] != "5" {
		t.Errorf("customer locked = %v, want 5 before the holding period", custBal["locked"])
	}

	// Illegal move from a terminal state.
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "cancelled"}, http.StatusConflict)
}

func TestAPI_PointsMatureThroughBalanceRead(t *testing.T) {
	ts := newTestServer(t)

	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "subtotal": "500",
	}, http.StatusCreated)
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "paid"}, http.StatusOK)

	// With the holding period collapsed, the lazy reconcile on read
	// promotes the points.
	ts.reconciler.HoldingPeriod = 0
	ts.reconciler.SetClock(func() time.Time { return time.Now().Add(time.Minute) })

	custBal := ts.mustStatus(t, "GET", "/api/subjects/cust-1/balance", nil, http.StatusOK)
	if custBal["available"] != "5" {
		t.Errorf("customer available = %v, want 5 after maturity", custBal["available"])
	}
}

// =============================================================================
// REDEMPTION AND PAYOUTS OVER HTTP
// =============================================================================

func TestAPI_Redeem_Clamps(t *testing.T) {
	ts := newTestServer(t)

	// Earn 5 points and mature them.
	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "subtotal": "500",
	}, http.StatusCreated)
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "paid"}, http.StatusOK)
	ts.reconciler.HoldingPeriod = 0
	ts.reconciler.SetClock(func() time.Time { return time.Now().Add(time.Minute) })

	// Ask for far more than held: the response reports the clamp.
	redeemed := ts.mustStatus(t, "POST", "/api/subjects/cust-1/redeem", map[string]string{
		"order_id": "o-2", "points": "100", "subtotal": "300",
	}, http.StatusOK)
	if redeemed["used"] != "5" {
		t.Errorf("used = %v, want 5", redeemed["used"])
	}
}

func TestAPI_Payout_StrictThenCompleted(t *testing.T) {
	ts := newTestServer(t)

	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "agent_id": "agent-1", "subtotal": "500",
	}, http.StatusCreated)
	for _, status := range []string{"paid", "shipped", "completed"} {
		ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
			map[string]string{"status": status}, http.StatusOK)
	}

	// Over-withdrawal is a conflict, not a clamp.
	ts.mustStatus(t, "POST", "/api/payouts", map[string]string{
		"agent_id": "agent-1", "amount": "80",
	}, http.StatusConflict)

	payout := ts.mustStatus(t, "POST", "/api/payouts", map[string]string{
		"agent_id": "agent-1", "amount": "40",
	}, http.StatusCreated)
	entryID, _ := payout["entry_id"].(string)
	if entryID == "" {
		t.Fatal("expected a payout entry id")
	}

	completed := ts.mustStatus(t, "POST", fmt.Sprintf("/api/payouts/%s/complete", entryID), nil, http.StatusOK)
	if completed["status"] != "completed" {
		t.Errorf("status = %v, want completed", completed["status"])
	}

	agentBal := ts.mustStatus(t, "GET", "/api/subjects/agent-1/balance?currency=money", nil, http.StatusOK)
	if agentBal["available"] != "10" {
		t.Errorf("agent available = %v, want 10", agentBal["available"])
	}
}

// =============================================================================
// CONSISTENCY AND ADMIN
// =============================================================================

func TestAPI_Audit_Consistent(t *testing.T) {
	ts := newTestServer(t)

	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "agent_id": "agent-1", "subtotal": "500",
	}, http.StatusCreated)
	ts.mustStatus(t, "POST", "/api/orders/o-1/transition",
		map[string]string{"status": "paid"}, http.StatusOK)

	audit := ts.mustStatus(t, "GET", "/api/subjects/agent-1/audit?currency=money", nil, http.StatusOK)
	if audit["consistent"] != true {
		t.Errorf("audit = %v, want consistent", audit)
	}
}

func TestAPI_Rates_GetAndReplace(t *testing.T) {
	ts := newTestServer(t)

	ts.mustStatus(t, "PUT", "/api/admin/rates", []map[string]string{
		{"min_subtotal": "0", "rate": "5"},
		{"min_subtotal": "1000", "rate": "8"},
	}, http.StatusOK)

	resp, _ := ts.do(t, "GET", "/api/admin/rates", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get rates: status %d", resp.StatusCode)
	}
}

func TestAPI_CreateOrder_Validation(t *testing.T) {
	ts := newTestServer(t)

	// Missing customer.
	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"subtotal": "500",
	}, http.StatusBadRequest)

	// Non-positive subtotal.
	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"customer_id": "cust-1", "subtotal": "0",
	}, http.StatusBadRequest)

	// Duplicate id.
	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "subtotal": "500",
	}, http.StatusCreated)
	ts.mustStatus(t, "POST", "/api/orders", map[string]string{
		"id": "o-1", "customer_id": "cust-1", "subtotal": "500",
	}, http.StatusConflict)
}
