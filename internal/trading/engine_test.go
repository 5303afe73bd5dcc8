package trading

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/auth"
	"github.com/pollypredict/trader/internal/ratelimit"
	"github.com/pollypredict/trader/internal/store"
)

func newEngineWithServer(t *testing.T, handler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	client := api.NewClient("demo", srv.URL, ratelimit.New(), api.WithHTTPClient(srv.Client()))
	client.SetCredentials(&auth.Credentials{KeyID: "test", PrivateKey: key})

	return NewEngine("demo", client, nil, nil, nil), srv
}

func orderResponse(orderID, status string, remaining int) []byte {
	data, _ := json.Marshal(map[string]any{
		"order": map[string]any{
			"order_id":        orderID,
			"status":          status,
			"remaining_count": remaining,
		},
	})
	return data
}

func TestExecuteSubmitsAndTracks(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateOrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.YesPrice != 42 || req.NoPrice != 0 {
			t.Errorf("prices = %d/%d, want yes_price only", req.YesPrice, req.NoPrice)
		}
		w.Write(orderResponse("EX-1", "resting", 10))
	})

	e.Execute(context.Background(), testIntent())

	orders := e.OpenOrders()
	if len(orders) != 1 {
		t.Fatalf("open orders = %d, want 1", len(orders))
	}
	if orders[0].OrderID != "EX-1" || orders[0].RemainingCount != 10 {
		t.Errorf("order = %+v", orders[0])
	}
}

func TestExecuteNoSideUsesNoPrice(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateOrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.NoPrice != 30 || req.YesPrice != 0 {
			t.Errorf("prices = %d/%d, want no_price only", req.YesPrice, req.NoPrice)
		}
		w.Write(orderResponse("EX-2", "resting", 5))
	})

	e.Execute(context.Background(), NewIntent("agent-1", "AgentPrime", "BTC-X", ActionBuy, SideNo, 30, 5, 0.6))
}

func TestExecuteIdempotency(t *testing.T) {
	var calls atomic.Int32
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(orderResponse("EX-1", "resting", 10))
	})

	intent := testIntent()
	e.Execute(context.Background(), intent)
	e.Execute(context.Background(), intent)

	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write(orderResponse("EX-1", "resting", 10))
	})

	e.Execute(context.Background(), testIntent())

	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
	if len(e.OpenOrders()) != 1 {
		t.Error("order not tracked after retry")
	}
}

func TestExecuteValidation(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid intent reached the exchange")
	})

	bad := []TradeIntent{
		NewIntent("a", "A", "", ActionBuy, SideYes, 42, 10, 0.5),
		NewIntent("a", "A", "T1", ActionBuy, SideYes, 0, 10, 0.5),
		NewIntent("a", "A", "T1", ActionBuy, SideYes, 100, 10, 0.5),
		NewIntent("a", "A", "T1", ActionBuy, SideYes, 42, 0, 0.5),
		NewIntent("a", "A", "T1", "hold", SideYes, 42, 10, 0.5),
		NewIntent("a", "A", "T1", ActionBuy, "maybe", 42, 10, 0.5),
	}
	for _, intent := range bad {
		e.Execute(context.Background(), intent)
	}
	if len(e.OpenOrders()) != 0 {
		t.Error("invalid intent was tracked")
	}
}

func TestExecuteUnauthorizedHalts(t *testing.T) {
	var calls atomic.Int32
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	e.Execute(context.Background(), testIntent())
	if !e.Halted() {
		t.Fatal("engine not halted after 401")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1 (no retry on 401)", n)
	}

	// Halt latch drops further intents without touching the exchange.
	e.Execute(context.Background(), testIntent())
	if n := calls.Load(); n != 1 {
		t.Errorf("halted engine still submitted, calls = %d", n)
	}

	e.ClearHalt()
	if e.Halted() {
		t.Error("halt not cleared")
	}
}

func TestHandleFillPartialThenComplete(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(orderResponse("EX-1", "resting", 10))
	})
	e.Execute(context.Background(), testIntent())

	e.HandleFill(context.Background(), FillEvent{
		FillID: "F1", OrderID: "EX-1", Ticker: "BTC-X",
		Side: SideYes, Action: ActionBuy, Count: 4, YesPrice: 42,
	})

	orders := e.OpenOrders()
	if len(orders) != 1 || orders[0].RemainingCount != 6 {
		t.Fatalf("after partial fill: %+v", orders)
	}
	if orders[0].Status != "partially_filled" {
		t.Errorf("status = %q", orders[0].Status)
	}

	e.HandleFill(context.Background(), FillEvent{
		FillID: "F2", OrderID: "EX-1", Ticker: "BTC-X",
		Side: SideYes, Action: ActionBuy, Count: 6, YesPrice: 42,
	})

	if len(e.OpenOrders()) != 0 {
		t.Error("filled order still open")
	}

	positions := e.Positions()
	if len(positions) != 1 || positions[0].Position != 10 {
		t.Errorf("positions = %+v, want net +10", positions)
	}
}

func TestHandleFillDeduplicates(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(orderResponse("EX-1", "resting", 10))
	})
	e.Execute(context.Background(), testIntent())

	fill := FillEvent{FillID: "F1", OrderID: "EX-1", Ticker: "BTC-X", Side: SideYes, Action: ActionBuy, Count: 4, YesPrice: 42}
	e.HandleFill(context.Background(), fill)
	e.HandleFill(context.Background(), fill)

	if got := e.OpenOrders()[0].RemainingCount; got != 6 {
		t.Errorf("remaining = %d, duplicate fill applied twice", got)
	}
}

func TestHandleOrderUpdateTerminal(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(orderResponse("EX-1", "resting", 10))
	})
	e.Execute(context.Background(), testIntent())

	e.HandleOrderUpdate(context.Background(), OrderEvent{OrderID: "EX-1", Status: "cancelled"})

	if len(e.OpenOrders()) != 0 {
		t.Error("cancelled order still open")
	}
}

func TestPositionDeltaSigns(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(orderResponse("EX-1", "resting", 100))
	})

	fills := []FillEvent{
		{FillID: "F1", Ticker: "T1", Side: SideYes, Action: ActionBuy, Count: 10},
		{FillID: "F2", Ticker: "T1", Side: SideYes, Action: ActionSell, Count: 3},
		{FillID: "F3", Ticker: "T1", Side: SideNo, Action: ActionBuy, Count: 2},
		{FillID: "F4", Ticker: "T1", Side: SideNo, Action: ActionSell, Count: 1},
	}
	for _, f := range fills {
		e.HandleFill(context.Background(), f)
	}

	// +10 -3 -2 +1 = 6 net yes.
	positions := e.Positions()
	if len(positions) != 1 || positions[0].Position != 6 {
		t.Errorf("positions = %+v, want net +6", positions)
	}
}

// recordingStore captures status updates so persistence of order
// transitions can be asserted.
type recordingStore struct {
	store.Null
	mu            sync.Mutex
	statusUpdates []string
}

func (r *recordingStore) UpdateOrderStatus(ctx context.Context, env, clientOrderID, status string, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates = append(r.statusUpdates, fmt.Sprintf("%s=%s/%d", clientOrderID, status, remaining))
}

func (r *recordingStore) updates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statusUpdates...)
}

func TestFillsPersistOrderStatus(t *testing.T) {
	e, _ := newEngineWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(orderResponse("EX-9", "resting", 3))
	})
	rec := &recordingStore{}
	e.store = rec

	intent := NewIntent("agent-1", "AgentPrime", "BTC-X", ActionBuy, SideYes, 42, 3, 0.5)
	e.Execute(context.Background(), intent)

	e.HandleFill(context.Background(), FillEvent{
		FillID: "F1", OrderID: "EX-9", Ticker: "BTC-X",
		Side: SideYes, Action: ActionBuy, Count: 2,
	})
	e.HandleFill(context.Background(), FillEvent{
		FillID: "F2", OrderID: "EX-9", Ticker: "BTC-X",
		Side: SideYes, Action: ActionBuy, Count: 1,
	})

	if n := len(e.OpenOrders()); n != 0 {
		t.Fatalf("open orders = %d after full fill, want 0", n)
	}

	// The partial fill and the terminal fill must both reach the store;
	// once the order leaves the open set nothing else will persist it.
	want := []string{
		intent.ClientOrderID + "=partially_filled/1",
		intent.ClientOrderID + "=filled/0",
	}
	got := rec.updates()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("status updates = %v, want %v", got, want)
	}
}
