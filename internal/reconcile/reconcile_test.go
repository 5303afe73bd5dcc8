package reconcile

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/auth"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/ratelimit"
	"github.com/pollypredict/trader/internal/trading"
)

// exchangeState is the fake exchange's view served over REST.
type exchangeState struct {
	mu        sync.Mutex
	resting   []api.Order
	positions []api.Position
	fills     []api.Fill
}

func newHarness(t *testing.T) (*Reconciler, *trading.Engine, *exchangeState, *events.Hub) {
	t.Helper()

	state := &exchangeState{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		switch {
		case r.Method == "POST" && r.URL.Path == "/trade-api/v2/portfolio/orders":
			json.NewEncoder(w).Encode(api.OrderResponse{
				Order: api.Order{OrderID: "EX-1", Status: "resting", RemainingCount: 10},
			})
		case r.URL.Path == "/trade-api/v2/portfolio/orders":
			json.NewEncoder(w).Encode(api.OrdersResponse{Orders: state.resting})
		case r.URL.Path == "/trade-api/v2/portfolio/positions":
			json.NewEncoder(w).Encode(api.PositionsResponse{MarketPositions: state.positions})
		case r.URL.Path == "/trade-api/v2/portfolio/fills":
			json.NewEncoder(w).Encode(api.FillsResponse{Fills: state.fills})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	client := api.NewClient("demo", srv.URL, ratelimit.New(), api.WithHTTPClient(srv.Client()))
	client.SetCredentials(&auth.Credentials{KeyID: "test", PrivateKey: key})

	hub := events.NewHub(nil)
	engine := trading.NewEngine("demo", client, nil, hub, nil)
	return New("demo", client, engine, hub, nil), engine, state, hub
}

func submitOrder(t *testing.T, engine *trading.Engine) trading.Order {
	t.Helper()
	engine.Execute(context.Background(), trading.NewIntent("a1", "Agent", "BTC-X", trading.ActionBuy, trading.SideYes, 42, 10, 0.5))
	orders := engine.OpenOrders()
	if len(orders) != 1 {
		t.Fatalf("open orders = %d, want 1", len(orders))
	}
	return orders[0]
}

func TestOrphanedLocalOrderMarkedCancelled(t *testing.T) {
	r, engine, _, _ := newHarness(t)
	submitOrder(t, engine)

	// Exchange rests nothing; the local order must be cancelled.
	r.RunOnce(context.Background())

	if n := len(engine.OpenOrders()); n != 0 {
		t.Errorf("open orders = %d after reconciliation, want 0", n)
	}
}

func TestStatusMismatchAdoptsExchangeView(t *testing.T) {
	r, engine, state, _ := newHarness(t)
	local := submitOrder(t, engine)

	state.mu.Lock()
	state.resting = []api.Order{{
		OrderID:        local.OrderID,
		Status:         "resting",
		RemainingCount: 4, // exchange saw fills we missed
	}}
	state.mu.Unlock()

	r.RunOnce(context.Background())

	orders := engine.OpenOrders()
	if len(orders) != 1 || orders[0].RemainingCount != 4 {
		t.Errorf("orders = %+v, want remaining adopted from exchange", orders)
	}
}

func TestPositionsOverwrittenWholesale(t *testing.T) {
	r, engine, state, _ := newHarness(t)

	// Local position book is stale.
	engine.HandleFill(context.Background(), trading.FillEvent{
		FillID: "F-local", Ticker: "OLD", Side: trading.SideYes, Action: trading.ActionBuy, Count: 7,
	})

	state.mu.Lock()
	state.positions = []api.Position{{Ticker: "NEW", Position: 3, MarketExposure: 120}}
	state.mu.Unlock()

	r.RunOnce(context.Background())

	positions := engine.Positions()
	if len(positions) != 1 || positions[0].Ticker != "NEW" || positions[0].Position != 3 {
		t.Errorf("positions = %+v, want exchange view only", positions)
	}
}

func TestFillBackfillDeduplicates(t *testing.T) {
	r, engine, state, hub := newHarness(t)

	// F1 already arrived over the stream; F2 was missed.
	engine.HandleFill(context.Background(), trading.FillEvent{FillID: "F1", Ticker: "T1", Side: trading.SideYes, Action: trading.ActionBuy, Count: 1})

	state.mu.Lock()
	// Exchange positions agree with the local book so the only
	// discrepancy is the missed fill.
	state.positions = []api.Position{{Ticker: "T1", Position: 1}}
	state.fills = []api.Fill{
		{TradeID: "F1", Ticker: "T1"},
		{TradeID: "F2", Ticker: "T1"},
	}
	state.mu.Unlock()

	sub, cancel := hub.Subscribe()
	defer cancel()

	r.RunOnce(context.Background())

	summary := awaitEvent(t, sub, "reconciliation_complete")
	// One backfilled fill is the only discrepancy.
	if got := summary.Fields["discrepancies"]; got != 1 {
		t.Errorf("discrepancies = %v, want 1", got)
	}
}

func TestSkipsWhenNotConfigured(t *testing.T) {
	r, engine, _, _ := newHarness(t)
	submitOrder(t, engine)

	r.client.ClearCredentials()
	r.RunOnce(context.Background())

	// Without credentials nothing is touched.
	if n := len(engine.OpenOrders()); n != 1 {
		t.Errorf("open orders = %d, want untouched 1", n)
	}
}

func awaitEvent(t *testing.T, sub <-chan events.Event, eventType string) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-sub:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", eventType)
		}
	}
}
