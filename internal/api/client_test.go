package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pollypredict/trader/internal/auth"
	"github.com/pollypredict/trader/internal/ratelimit"
)

func testCredentials(t *testing.T) *auth.Credentials {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return &auth.Credentials{KeyID: "test-key", PrivateKey: key}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient("demo", srv.URL, ratelimit.New(), WithHTTPClient(srv.Client()))
	c.SetCredentials(testCredentials(t))
	return c
}

func TestRequestNotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server without credentials")
	}))
	defer srv.Close()

	c := NewClient("demo", srv.URL, ratelimit.New(), WithHTTPClient(srv.Client()))
	_, err := c.Request(context.Background(), "GET", "/markets", nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRequestSendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{auth.HeaderKey, auth.HeaderSignature, auth.HeaderTimestamp} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Request(context.Background(), "GET", "/portfolio/balance", nil, nil); err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestRequestUnauthorizedNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Request(context.Background(), "GET", "/portfolio/balance", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestRequestBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Request(context.Background(), "POST", "/portfolio/orders", nil, map[string]string{"ticker": "T1"})
	if !errors.Is(err, ErrClient) {
		t.Errorf("err = %v, want ErrClient", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestRequestRateLimitedRetriedUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"balance": 100}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	data, err := c.Request(context.Background(), "GET", "/portfolio/balance", nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty response body")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestRequestServerErrorExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Request(context.Background(), "GET", "/markets", nil, nil)
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want wrapped ErrTransient", err)
	}
	// Initial attempt plus three retries.
	if n := calls.Load(); n != 4 {
		t.Errorf("server called %d times, want 4", n)
	}
}

func TestRequestClearedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if !c.IsConfigured() {
		t.Fatal("IsConfigured = false after SetCredentials")
	}
	c.ClearCredentials()
	if c.IsConfigured() {
		t.Fatal("IsConfigured = true after ClearCredentials")
	}

	_, err := c.Request(context.Background(), "GET", "/markets", nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestGetMarketsQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/v2/markets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "open" || q.Get("limit") != "1000" || q.Get("cursor") != "abc" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"markets": [{"ticker": "BTC-X", "yes_bid": 40, "no_bid": 55, "status": "active"}], "cursor": "next"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.GetMarkets(context.Background(), "open", 1000, "abc")
	if err != nil {
		t.Fatalf("GetMarkets: %v", err)
	}
	if len(resp.Markets) != 1 || resp.Markets[0].Ticker != "BTC-X" {
		t.Errorf("markets = %+v", resp.Markets)
	}
	if resp.Cursor != "next" {
		t.Errorf("cursor = %q", resp.Cursor)
	}
}

func TestGetRestingOrdersFollowsCursor(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "resting" {
			t.Errorf("status = %q, want resting", r.URL.Query().Get("status"))
		}
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"orders": [{"order_id": "O1"}], "cursor": "p2"}`))
			return
		}
		if got := r.URL.Query().Get("cursor"); got != "p2" {
			t.Errorf("cursor = %q, want p2", got)
		}
		w.Write([]byte(`{"orders": [{"order_id": "O2"}], "cursor": ""}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	orders, err := c.GetRestingOrders(context.Background())
	if err != nil {
		t.Fatalf("GetRestingOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].OrderID != "O1" || orders[1].OrderID != "O2" {
		t.Errorf("orders = %+v", orders)
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"order": {"order_id": "EX-1", "client_order_id": "C-1", "status": "resting", "remaining_count": 10}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	order, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Ticker:        "BTC-X",
		ClientOrderID: "C-1",
		Side:          "yes",
		Action:        "buy",
		Type:          "limit",
		Count:         10,
		YesPrice:      42,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderID != "EX-1" || order.RemainingCount != 10 {
		t.Errorf("order = %+v", order)
	}
}
