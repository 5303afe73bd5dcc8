package api

// Market is one row from GET /markets or GET /markets/{ticker}.
type Market struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	MarketType   string `json:"market_type"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	NoBid        int    `json:"no_bid"`
	NoAsk        int    `json:"no_ask"`
	LastPrice    int    `json:"last_price"`
	Volume       int64  `json:"volume"`
	Volume24H    int64  `json:"volume_24h"`
	OpenInterest int64  `json:"open_interest"`
	Liquidity    int64  `json:"liquidity"`
	OpenTime     string `json:"open_time"`
	CloseTime    string `json:"close_time"`
}

// MarketsResponse is the paginated GET /markets envelope.
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// MarketResponse wraps a single market lookup.
type MarketResponse struct {
	Market Market `json:"market"`
}

// ExchangeStatus is GET /exchange/status.
type ExchangeStatus struct {
	ExchangeActive bool `json:"exchange_active"`
	TradingActive  bool `json:"trading_active"`
}

// Balance is GET /portfolio/balance. Values are integer cents.
type Balance struct {
	Balance int64 `json:"balance"`
	Payout  int64 `json:"payout"`
}

// Order is an exchange order record.
type Order struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	Count          int    `json:"count"`
	RemainingCount int    `json:"remaining_count"`
	CreatedTime    string `json:"created_time"`
}

// OrdersResponse is the paginated GET /portfolio/orders envelope.
type OrdersResponse struct {
	Orders []Order `json:"orders"`
	Cursor string  `json:"cursor"`
}

// OrderResponse wraps a single order.
type OrderResponse struct {
	Order Order `json:"order"`
}

// CreateOrderRequest is the POST /portfolio/orders body. Exactly one of
// YesPrice or NoPrice is set for limit orders.
type CreateOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Type          string `json:"type"`
	Count         int    `json:"count"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

// Position is one row from GET /portfolio/positions.
type Position struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	RealizedPnl    int64  `json:"realized_pnl"`
	TotalTraded    int64  `json:"total_traded"`
}

// PositionsResponse is the GET /portfolio/positions envelope.
type PositionsResponse struct {
	MarketPositions []Position `json:"market_positions"`
	Cursor          string     `json:"cursor"`
}

// Fill is one row from GET /portfolio/fills.
type Fill struct {
	TradeID     string `json:"trade_id"`
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time"`
}

// FillsResponse is the GET /portfolio/fills envelope.
type FillsResponse struct {
	Fills  []Fill `json:"fills"`
	Cursor string `json:"cursor"`
}
