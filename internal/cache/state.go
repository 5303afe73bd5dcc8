package cache

// Market status values as reported by the exchange.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusSettled = "settled"
	StatusHalted  = "halted"
)

// MarketState is the cached view of a single market. All prices are
// integer cents in [0,100]. Derived fields are recomputed atomically with
// their inputs on every write.
type MarketState struct {
	MarketTicker string
	EventTicker  string
	SeriesTicker string
	Status       string

	YesBid    int // direct from the exchange
	NoBid     int // direct from the exchange
	YesAsk    int // derived: 100 - NoBid
	NoAsk     int // derived: 100 - YesBid
	LastPrice int

	Volume       int64
	OpenInterest int64

	Spread             int     // YesAsk - YesBid
	Midpoint           float64 // (YesBid + YesAsk) / 2
	ImpliedProbability float64 // YesBid / 100

	LastUpdatedMs int64

	// Orderbook is nil until the first snapshot arrives. Side maps are
	// replaced wholesale on every write so snapshots can share them.
	Orderbook *Orderbook

	// RecentTrades holds the last maxRecentTrades public trades, oldest
	// first.
	RecentTrades []Trade
}

// Orderbook is a price→quantity book for both sides plus the exchange
// sequence number of the last applied message.
type Orderbook struct {
	Yes map[int]int
	No  map[int]int
	Seq int64
}

// Trade is one public trade kept in the per-market history buffer.
type Trade struct {
	YesPrice  int
	Count     int
	TakerSide string
	TS        int64
}

// Level is one orderbook price level. Qty 0 deletes the level.
type Level struct {
	Price int
	Qty   int
}

// TickerUpdate carries a `ticker` channel message. Optional wire fields
// are pointers so absence is distinguishable from zero.
type TickerUpdate struct {
	MarketTicker string
	EventTicker  string
	SeriesTicker string
	Status       string

	YesBid       int
	NoBid        int
	YesAsk       *int
	LastPrice    *int
	Volume       *int64
	OpenInterest *int64

	TS int64
}

// OrderbookUpdate carries an `orderbook_delta` message: a full snapshot
// (Seq == 1 or no prior book) or an incremental patch.
type OrderbookUpdate struct {
	MarketTicker string
	Seq          int64
	Yes          []Level
	No           []Level
}

// TradeUpdate carries a public `trade` message.
type TradeUpdate struct {
	MarketTicker string
	YesPrice     int
	Count        int
	TakerSide    string
	TS           int64
}

// DiscoveredMarket carries metadata from a REST /markets row.
type DiscoveredMarket struct {
	Ticker       string
	EventTicker  string
	SeriesTicker string
	Status       string
	YesBid       int
	NoBid        int
	LastPrice    int
	Volume       int64
	OpenInterest int64
}

// derive recomputes the ask/spread/midpoint/probability fields from the
// bid pair. The yes/no books are complementary: an ask on one side is a
// bid on the other at 100 minus the price.
func derive(yesBid, noBid int) (yesAsk, noAsk, spread int, midpoint, impliedProb float64) {
	yesAsk = 100 - noBid
	noAsk = 100 - yesBid
	spread = yesAsk - yesBid
	midpoint = float64(yesBid+yesAsk) / 2.0
	impliedProb = float64(yesBid) / 100.0
	return
}

func (s *MarketState) applyDerived() {
	s.YesAsk, s.NoAsk, s.Spread, s.Midpoint, s.ImpliedProbability = derive(s.YesBid, s.NoBid)
}
