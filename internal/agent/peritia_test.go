package agent

import (
	"context"
	"testing"
	"time"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/trading"
)

func btcMarket(c *cache.Cache, ticker string, yesDepth, noDepth int) {
	c.UpsertFromDiscovery(cache.DiscoveredMarket{
		Ticker:       ticker,
		SeriesTicker: "KXBTCD-25AUG26",
		Status:       cache.StatusOpen,
		YesBid:       48,
		NoBid:        49,
	})
	c.ApplyOrderbook(cache.OrderbookUpdate{
		MarketTicker: ticker,
		Seq:          1,
		Yes:          []cache.Level{{Price: 48, Qty: yesDepth}},
		No:           []cache.Level{{Price: 49, Qty: noDepth}},
	})
}

func TestPeritiaYesImbalanceSignal(t *testing.T) {
	c := cache.New(nil)
	btcMarket(c, "KXBTCD-T1", 80, 20)

	p := NewPeritia(DefaultPeritiaConfig())
	env, intents := collectEnv(c)

	if err := p.OnMarketUpdate(context.Background(), env); err != nil {
		t.Fatalf("OnMarketUpdate: %v", err)
	}
	if len(*intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(*intents))
	}
	got := (*intents)[0]
	if got.Side != trading.SideYes {
		t.Errorf("side = %s, want yes on positive imbalance", got.Side)
	}
	if got.Price != 49 {
		t.Errorf("price = %d, want yes_bid+1", got.Price)
	}
}

func TestPeritiaNoImbalanceSignal(t *testing.T) {
	c := cache.New(nil)
	btcMarket(c, "KXBTCD-T1", 20, 80)

	p := NewPeritia(DefaultPeritiaConfig())
	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 1 || (*intents)[0].Side != trading.SideNo {
		t.Fatalf("intents = %+v, want one buy no", *intents)
	}
}

func TestPeritiaBalancedBookNoSignal(t *testing.T) {
	c := cache.New(nil)
	btcMarket(c, "KXBTCD-T1", 52, 48)

	p := NewPeritia(DefaultPeritiaConfig())
	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 0 {
		t.Errorf("intents = %+v, imbalance below threshold", *intents)
	}
}

func TestPeritiaIgnoresOtherSeries(t *testing.T) {
	c := cache.New(nil)
	c.UpsertFromDiscovery(cache.DiscoveredMarket{
		Ticker:       "WEATHER-T1",
		SeriesTicker: "KXHIGHNY",
		Status:       cache.StatusOpen,
		YesBid:       48,
		NoBid:        49,
	})
	c.ApplyOrderbook(cache.OrderbookUpdate{
		MarketTicker: "WEATHER-T1",
		Seq:          1,
		Yes:          []cache.Level{{Price: 48, Qty: 100}},
	})

	p := NewPeritia(DefaultPeritiaConfig())
	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 0 {
		t.Errorf("intents = %+v, series outside watch list", *intents)
	}
}

func TestPeritiaCooldown(t *testing.T) {
	c := cache.New(nil)
	btcMarket(c, "KXBTCD-T1", 80, 20)

	now := time.Now()
	p := NewPeritia(DefaultPeritiaConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 1 {
		t.Errorf("intents = %d, cooldown not applied", len(*intents))
	}

	later := now.Add(6 * time.Second)
	p.now = func() time.Time { return later }
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 2 {
		t.Errorf("intents = %d, want 2 after cooldown", len(*intents))
	}
}

func TestPeritiaBroadcastsDecision(t *testing.T) {
	c := cache.New(nil)
	btcMarket(c, "KXBTCD-T1", 80, 20)

	p := NewPeritia(DefaultPeritiaConfig())
	env, intents := collectEnv(c)
	var decisions []map[string]any
	env.Publish = func(eventType string, fields map[string]any) {
		if eventType == "agent_decision" {
			decisions = append(decisions, fields)
		}
	}

	if err := p.OnMarketUpdate(context.Background(), env); err != nil {
		t.Fatalf("OnMarketUpdate: %v", err)
	}

	if len(*intents) != 1 || len(decisions) != 1 {
		t.Fatalf("intents = %d, decisions = %d, want 1 each", len(*intents), len(decisions))
	}
	d := decisions[0]
	if d["ticker"] != "KXBTCD-T1" || d["side"] != trading.SideYes || d["price"] != 49 {
		t.Errorf("decision = %v", d)
	}
}
