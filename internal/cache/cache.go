// Package cache holds the in-memory view of every subscribed market.
// It is written only by the message dispatcher and market discovery;
// agents and the control API read from it. Waiters block on the update
// notifier instead of polling.
package cache

import (
	"log/slog"
	"sync"
)

// maxRecentTrades bounds the per-market trade history.
const maxRecentTrades = 100

// Cache is a concurrent map of ticker → MarketState guarded by a single
// mutex. Reads return copies so callers never hold the lock during their
// own processing.
type Cache struct {
	logger *slog.Logger

	mu      sync.Mutex
	markets map[string]*MarketState

	subMu   sync.Mutex
	nextSub int
	waiters map[int]chan struct{}
}

// New creates an empty market cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:  logger,
		markets: make(map[string]*MarketState),
		waiters: make(map[int]chan struct{}),
	}
}

// ── Reads ────────────────────────────────────────────────────────────────

// Get returns a copy of one market's state.
func (c *Cache) Get(ticker string) (MarketState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.markets[ticker]
	if !ok {
		return MarketState{}, false
	}
	return *state, true
}

// Snapshot returns a shallow copy of the entire cache. Orderbook side
// maps are replaced (never mutated in place) by writers, so the returned
// states are safe to read without further locking.
func (c *Cache) Snapshot() map[string]MarketState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]MarketState, len(c.markets))
	for ticker, state := range c.markets {
		out[ticker] = *state
	}
	return out
}

// Size returns the number of cached markets.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.markets)
}

// ── Update notifier ──────────────────────────────────────────────────────

// Updates registers a waiter and returns its wake-up channel plus an
// unsubscribe function. Writers set the notification after every update;
// receiving from the channel clears it. A set between clear and the next
// wait is retained in the channel buffer, so updates are coalesced but
// never lost.
func (c *Cache) Updates() (<-chan struct{}, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++

	ch := make(chan struct{}, 1)
	c.waiters[id] = ch

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.waiters, id)
	}
	return ch, cancel
}

func (c *Cache) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.waiters {
		select {
		case ch <- struct{}{}:
		default:
			// Already set; the waiter will coalesce this update.
		}
	}
}

// ── Writes (dispatcher and discovery only) ───────────────────────────────

// UpsertFromTicker applies a ticker channel update, creating a minimal
// entry the first time a ticker is seen over the WebSocket.
func (c *Cache) UpsertFromTicker(u TickerUpdate) {
	if u.MarketTicker == "" {
		return
	}

	c.mu.Lock()
	state, ok := c.markets[u.MarketTicker]
	if !ok {
		status := u.Status
		if status == "" {
			status = StatusOpen
		}
		state = &MarketState{
			MarketTicker: u.MarketTicker,
			EventTicker:  u.EventTicker,
			SeriesTicker: u.SeriesTicker,
			Status:       status,
		}
		c.markets[u.MarketTicker] = state
	}

	state.YesBid = u.YesBid
	state.NoBid = u.NoBid
	state.applyDerived()

	// Some ticker messages carry yes_ask directly; trust it over the
	// derived value when present.
	if u.YesAsk != nil {
		state.YesAsk = *u.YesAsk
		state.NoAsk = 100 - u.YesBid
	}
	if u.LastPrice != nil {
		state.LastPrice = *u.LastPrice
	}
	if u.Volume != nil {
		state.Volume = *u.Volume
	}
	if u.OpenInterest != nil {
		state.OpenInterest = *u.OpenInterest
	}
	if u.TS != 0 {
		state.LastUpdatedMs = u.TS
	}
	c.mu.Unlock()

	c.notify()
}

// UpsertFromDiscovery creates or refreshes a market from REST discovery
// data. On an existing entry only metadata is refreshed: live price
// fields stay under WebSocket authority.
func (c *Cache) UpsertFromDiscovery(m DiscoveredMarket) {
	if m.Ticker == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.markets[m.Ticker]; ok {
		if m.EventTicker != "" {
			state.EventTicker = m.EventTicker
		}
		if m.SeriesTicker != "" {
			state.SeriesTicker = m.SeriesTicker
		}
		if m.Status != "" {
			state.Status = m.Status
		}
		return
	}

	status := m.Status
	if status == "" {
		status = StatusOpen
	}
	state := &MarketState{
		MarketTicker: m.Ticker,
		EventTicker:  m.EventTicker,
		SeriesTicker: m.SeriesTicker,
		Status:       status,
		YesBid:       m.YesBid,
		NoBid:        m.NoBid,
		LastPrice:    m.LastPrice,
		Volume:       m.Volume,
		OpenInterest: m.OpenInterest,
	}
	state.applyDerived()
	c.markets[m.Ticker] = state
}

// ApplyOrderbook applies an orderbook snapshot or patch. Seq 1 always
// replaces the book wholesale, as does any delta arriving before a book
// exists. Side maps are cloned before patching so concurrently held
// snapshots stay consistent.
func (c *Cache) ApplyOrderbook(u OrderbookUpdate) {
	if u.MarketTicker == "" {
		return
	}

	c.mu.Lock()
	state, ok := c.markets[u.MarketTicker]
	if !ok {
		c.mu.Unlock()
		return
	}

	if u.Seq == 1 || state.Orderbook == nil {
		book := &Orderbook{
			Yes: make(map[int]int, len(u.Yes)),
			No:  make(map[int]int, len(u.No)),
			Seq: u.Seq,
		}
		for _, lvl := range u.Yes {
			book.Yes[lvl.Price] = lvl.Qty
		}
		for _, lvl := range u.No {
			book.No[lvl.Price] = lvl.Qty
		}
		state.Orderbook = book
	} else {
		book := &Orderbook{
			Yes: patchSide(state.Orderbook.Yes, u.Yes),
			No:  patchSide(state.Orderbook.No, u.No),
			Seq: u.Seq,
		}
		state.Orderbook = book
	}

	// Best bids come straight from the book after any change.
	state.YesBid = maxPrice(state.Orderbook.Yes)
	state.NoBid = maxPrice(state.Orderbook.No)
	state.applyDerived()
	c.mu.Unlock()

	c.notify()
}

func patchSide(side map[int]int, levels []Level) map[int]int {
	next := make(map[int]int, len(side)+len(levels))
	for price, qty := range side {
		next[price] = qty
	}
	for _, lvl := range levels {
		if lvl.Qty == 0 {
			delete(next, lvl.Price)
		} else {
			next[lvl.Price] = lvl.Qty
		}
	}
	return next
}

func maxPrice(side map[int]int) int {
	best := 0
	for price := range side {
		if price > best {
			best = price
		}
	}
	return best
}

// AppendTrade appends a public trade to the market's bounded history.
func (c *Cache) AppendTrade(u TradeUpdate) {
	if u.MarketTicker == "" {
		return
	}

	c.mu.Lock()
	if state, ok := c.markets[u.MarketTicker]; ok {
		state.RecentTrades = append(state.RecentTrades, Trade{
			YesPrice:  u.YesPrice,
			Count:     u.Count,
			TakerSide: u.TakerSide,
			TS:        u.TS,
		})
		if len(state.RecentTrades) > maxRecentTrades {
			state.RecentTrades = state.RecentTrades[len(state.RecentTrades)-maxRecentTrades:]
		}
	}
	c.mu.Unlock()

	c.notify()
}

// UpdateStatus applies a market_lifecycle status change. The orderbook
// and trade history are preserved.
func (c *Cache) UpdateStatus(ticker, status string) {
	if ticker == "" || status == "" {
		return
	}

	c.mu.Lock()
	if state, ok := c.markets[ticker]; ok {
		state.Status = status
	}
	c.mu.Unlock()

	c.notify()
}
