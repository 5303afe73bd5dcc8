package agent

import (
	"context"
	"testing"
	"time"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/trading"
)

func collectEnv(c *cache.Cache) (*Env, *[]trading.TradeIntent) {
	var intents []trading.TradeIntent
	env := &Env{
		AgentID:   "agent-1",
		AgentName: "test",
		Cache:     c,
		Submit:    func(i trading.TradeIntent) { intents = append(intents, i) },
	}
	return env, &intents
}

func primeMarket(c *cache.Cache, ticker string, yesVol, noVol int, ts int64) {
	c.UpsertFromDiscovery(cache.DiscoveredMarket{
		Ticker: ticker,
		Status: cache.StatusOpen,
		YesBid: 40,
		NoBid:  55,
		Volume: 10000,
	})
	for i := 0; i < yesVol; i++ {
		c.AppendTrade(cache.TradeUpdate{MarketTicker: ticker, YesPrice: 41, Count: 1, TakerSide: "yes", TS: ts})
	}
	for i := 0; i < noVol; i++ {
		c.AppendTrade(cache.TradeUpdate{MarketTicker: ticker, YesPrice: 41, Count: 1, TakerSide: "no", TS: ts})
	}
}

func TestPrimeYesMajoritySignal(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	primeMarket(c, "BTC-X", 70, 20, now.UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	if err := p.OnMarketUpdate(context.Background(), env); err != nil {
		t.Fatalf("OnMarketUpdate: %v", err)
	}

	if len(*intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(*intents))
	}
	got := (*intents)[0]
	if got.Side != trading.SideYes || got.Action != trading.ActionBuy {
		t.Errorf("intent = %s %s, want buy yes", got.Action, got.Side)
	}
	if got.Price != 41 {
		t.Errorf("price = %d, want yes_bid+1 = 41", got.Price)
	}
}

func TestPrimeNoMajoritySignal(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	primeMarket(c, "BTC-X", 10, 60, now.UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 1 || (*intents)[0].Side != trading.SideNo {
		t.Fatalf("intents = %+v, want one buy no", *intents)
	}
	if (*intents)[0].Price != 56 {
		t.Errorf("price = %d, want no_bid+1 = 56", (*intents)[0].Price)
	}
}

func TestPrimeBelowThresholdNoSignal(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	primeMarket(c, "BTC-X", 50, 48, now.UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 0 {
		t.Errorf("intents = %+v, flow share below threshold", *intents)
	}
}

func TestPrimeIgnoresStaleTrades(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	// All flow is older than the window.
	primeMarket(c, "BTC-X", 70, 20, now.Add(-2*time.Minute).UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 0 {
		t.Errorf("intents = %+v, want none from stale flow", *intents)
	}
}

func TestPrimeOneSignalPerWindow(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	primeMarket(c, "BTC-X", 70, 20, now.UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 1 {
		t.Errorf("intents = %d, want window cooldown to suppress the second", len(*intents))
	}

	// A fresh window allows the next signal.
	later := now.Add(61 * time.Second)
	p.now = func() time.Time { return later }
	primeMarket(c, "BTC-X", 30, 0, later.UnixMilli())
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 2 {
		t.Errorf("intents = %d, want 2 after window rolled", len(*intents))
	}
}

func TestPrimeRespectsTopMarketsBound(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()

	// Six one-sided markets; the quietest must be skipped.
	tickers := []string{"M1", "M2", "M3", "M4", "M5", "M6"}
	for i, ticker := range tickers {
		c.UpsertFromDiscovery(cache.DiscoveredMarket{
			Ticker: ticker,
			Status: cache.StatusOpen,
			YesBid: 40,
			NoBid:  55,
			Volume: int64(1000 * (len(tickers) - i)),
		})
		c.AppendTrade(cache.TradeUpdate{MarketTicker: ticker, YesPrice: 41, Count: 10, TakerSide: "yes", TS: now.UnixMilli()})
	}

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

	env, intents := collectEnv(c)
	p.OnMarketUpdate(context.Background(), env)

	if len(*intents) != 5 {
		t.Errorf("intents = %d, want top 5 markets only", len(*intents))
	}
	for _, intent := range *intents {
		if intent.MarketTicker == "M6" {
			t.Error("quietest market was evaluated")
		}
	}
}

func TestPrimeBroadcastsDecision(t *testing.T) {
	c := cache.New(nil)
	now := time.Now()
	primeMarket(c, "BTC-X", 70, 20, now.UnixMilli())

	p := NewPrime(DefaultPrimeConfig())
	p.now = func() time.Time { return now }

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

	// Every signal is broadcast, even when the permission layer would
	// drop the intent afterwards.
	if len(*intents) != 1 || len(decisions) != 1 {
		t.Fatalf("intents = %d, decisions = %d, want 1 each", len(*intents), len(decisions))
	}
	d := decisions[0]
	if d["ticker"] != "BTC-X" || d["side"] != trading.SideYes || d["price"] != 41 {
		t.Errorf("decision = %v", d)
	}
}
