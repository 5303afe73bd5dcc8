package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/trading"
)

// PeritiaConfig tunes the orderbook-imbalance strategy.
type PeritiaConfig struct {
	// SeriesPrefix selects the markets this strategy watches, matched
	// against the series ticker.
	SeriesPrefix string
	// MinImbalance is the minimum signed depth imbalance before a
	// signal fires.
	MinImbalance float64
	// Cooldown is the per-market pause between signals.
	Cooldown time.Duration
	// OrderCount is the contract count on emitted intents.
	OrderCount int
}

// DefaultPeritiaConfig targets the 15-minute Bitcoin series.
func DefaultPeritiaConfig() PeritiaConfig {
	return PeritiaConfig{
		SeriesPrefix: "KXBTC",
		MinImbalance: 0.15,
		Cooldown:     5 * time.Second,
		OrderCount:   5,
	}
}

// Peritia trades short-horizon crypto markets on orderbook depth
// imbalance: when resting size leans far enough to one side, it joins
// that side one tick inside the bid, rate-limited per market.
type Peritia struct {
	cfg PeritiaConfig

	mu        sync.Mutex
	lastFired map[string]time.Time
	now       func() time.Time
}

// NewPeritia creates the strategy.
func NewPeritia(cfg PeritiaConfig) *Peritia {
	if cfg.SeriesPrefix == "" {
		cfg = DefaultPeritiaConfig()
	}
	return &Peritia{
		cfg:       cfg,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (p *Peritia) Name() string { return "AgentPeritia" }

func (p *Peritia) OnMarketUpdate(ctx context.Context, env *Env) error {
	now := p.now()

	for _, state := range env.Cache.Snapshot() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !strings.HasPrefix(state.SeriesTicker, p.cfg.SeriesPrefix) {
			continue
		}
		if state.Status != cache.StatusOpen && state.Status != "active" {
			continue
		}
		if state.Orderbook == nil {
			continue
		}

		p.mu.Lock()
		fired := p.lastFired[state.MarketTicker]
		p.mu.Unlock()
		if now.Sub(fired) < p.cfg.Cooldown {
			continue
		}

		imbalance, ok := depthImbalance(state.Orderbook)
		if !ok {
			continue
		}

		var side string
		var price int
		switch {
		case imbalance >= p.cfg.MinImbalance:
			side, price = trading.SideYes, state.YesBid+1
		case imbalance <= -p.cfg.MinImbalance:
			side, price = trading.SideNo, state.NoBid+1
		default:
			continue
		}
		if price < 1 || price > 99 {
			continue
		}

		p.mu.Lock()
		p.lastFired[state.MarketTicker] = now
		p.mu.Unlock()

		confidence := imbalance
		if confidence < 0 {
			confidence = -confidence
		}
		if env.Publish != nil {
			env.Publish("agent_decision", map[string]any{
				"ticker":     state.MarketTicker,
				"action":     trading.ActionBuy,
				"side":       side,
				"price":      price,
				"count":      p.cfg.OrderCount,
				"confidence": confidence,
			})
		}
		env.Submit(trading.NewIntent(
			env.AgentID, env.AgentName,
			state.MarketTicker, trading.ActionBuy, side,
			price, p.cfg.OrderCount, confidence,
		))
	}
	return nil
}

// depthImbalance returns (yes-no)/(yes+no) resting size. ok is false on
// an empty book.
func depthImbalance(book *cache.Orderbook) (float64, bool) {
	var yes, no int
	for _, qty := range book.Yes {
		yes += qty
	}
	for _, qty := range book.No {
		no += qty
	}
	if yes+no == 0 {
		return 0, false
	}
	return float64(yes-no) / float64(yes+no), true
}
