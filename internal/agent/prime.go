package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/trading"
)

// PrimeConfig tunes the volume-majority strategy.
type PrimeConfig struct {
	// Window is how much recent trade flow is examined per market.
	Window time.Duration
	// TopMarkets bounds evaluation to the busiest markets by volume.
	TopMarkets int
	// Threshold is the minimum taker-flow share on one side before a
	// signal fires.
	Threshold float64
	// OrderCount is the contract count on emitted intents.
	OrderCount int
}

// DefaultPrimeConfig matches production tuning.
func DefaultPrimeConfig() PrimeConfig {
	return PrimeConfig{
		Window:     60 * time.Second,
		TopMarkets: 5,
		Threshold:  0.55,
		OrderCount: 10,
	}
}

// Prime follows taker flow: when one side takes a clear majority of
// recent trade volume in a busy market, it joins that side one tick
// inside the current bid. At most one signal per market per window.
type Prime struct {
	cfg PrimeConfig

	mu        sync.Mutex
	lastFired map[string]time.Time
	now       func() time.Time
}

// NewPrime creates the strategy.
func NewPrime(cfg PrimeConfig) *Prime {
	if cfg.Window <= 0 {
		cfg = DefaultPrimeConfig()
	}
	return &Prime{
		cfg:       cfg,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (p *Prime) Name() string { return "AgentPrime" }

func (p *Prime) OnMarketUpdate(ctx context.Context, env *Env) error {
	now := p.now()
	cutoffMs := now.Add(-p.cfg.Window).UnixMilli()

	for _, state := range p.topMarkets(env.Cache.Snapshot()) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		fired := p.lastFired[state.MarketTicker]
		p.mu.Unlock()
		if now.Sub(fired) < p.cfg.Window {
			continue
		}

		var yesVol, noVol int
		for _, trade := range state.RecentTrades {
			if trade.TS < cutoffMs {
				continue
			}
			if trade.TakerSide == trading.SideYes {
				yesVol += trade.Count
			} else {
				noVol += trade.Count
			}
		}
		total := yesVol + noVol
		if total == 0 {
			continue
		}

		yesShare := float64(yesVol) / float64(total)
		var side string
		var price int
		var share float64
		switch {
		case yesShare >= p.cfg.Threshold:
			side, price, share = trading.SideYes, state.YesBid+1, yesShare
		case 1-yesShare >= p.cfg.Threshold:
			side, price, share = trading.SideNo, state.NoBid+1, 1-yesShare
		default:
			continue
		}
		if price < 1 || price > 99 {
			continue
		}

		p.mu.Lock()
		p.lastFired[state.MarketTicker] = now
		p.mu.Unlock()

		if env.Publish != nil {
			env.Publish("agent_decision", map[string]any{
				"ticker":     state.MarketTicker,
				"action":     trading.ActionBuy,
				"side":       side,
				"price":      price,
				"count":      p.cfg.OrderCount,
				"confidence": share,
			})
		}
		env.Submit(trading.NewIntent(
			env.AgentID, env.AgentName,
			state.MarketTicker, trading.ActionBuy, side,
			price, p.cfg.OrderCount, share,
		))
	}
	return nil
}

// topMarkets returns the busiest open markets, by volume, descending.
func (p *Prime) topMarkets(snapshot map[string]cache.MarketState) []cache.MarketState {
	markets := make([]cache.MarketState, 0, len(snapshot))
	for _, state := range snapshot {
		if state.Status == cache.StatusOpen || state.Status == "active" {
			markets = append(markets, state)
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
	if len(markets) > p.cfg.TopMarkets {
		markets = markets[:p.cfg.TopMarkets]
	}
	return markets
}
