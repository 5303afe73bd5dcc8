// Package trading carries trade intents from agents through the
// permission gates to the execution engine, which is the only component
// allowed to submit orders to the exchange.
package trading

import (
	"time"

	"github.com/google/uuid"
)

// Side and action values on intents and orders.
const (
	SideYes = "yes"
	SideNo  = "no"

	ActionBuy  = "buy"
	ActionSell = "sell"

	TypeLimit  = "limit"
	TypeMarket = "market"
)

// Agent submission modes. Only Auto intents reach the engine.
const (
	ModeAuto     = "Auto"
	ModeSemiAuto = "SemiAuto"
	ModeFullStop = "FullStop"
)

// TradeIntent is an immutable order request produced by an agent. The
// client order ID is the idempotency key for the whole execution path.
type TradeIntent struct {
	AgentID       string
	AgentName     string
	ClientOrderID string
	MarketTicker  string
	Action        string
	Side          string
	OrderType     string
	Price         int
	Count         int
	Confidence    float64
	GeneratedAtMs int64
}

// NewIntent builds an intent with a fresh client order ID and timestamp.
func NewIntent(agentID, agentName, ticker, action, side string, price, count int, confidence float64) TradeIntent {
	return TradeIntent{
		AgentID:       agentID,
		AgentName:     agentName,
		ClientOrderID: uuid.NewString(),
		MarketTicker:  ticker,
		Action:        action,
		Side:          side,
		OrderType:     TypeLimit,
		Price:         price,
		Count:         count,
		Confidence:    confidence,
		GeneratedAtMs: time.Now().UnixMilli(),
	}
}

// Order is the engine's in-memory record of a submitted order.
type Order struct {
	OrderID        string
	ClientOrderID  string
	AgentID        string
	Ticker         string
	Side           string
	Action         string
	Type           string
	Status         string
	Price          int
	Count          int
	RemainingCount int
	Env            string
	CreatedAt      time.Time
}

// Position is the engine's in-memory per-market net position. Positive
// counts are net yes exposure.
type Position struct {
	Ticker         string
	Position       int
	MarketExposure int64
	RealizedPnl    int64
}

// FillEvent is a decoded `user:fill` WebSocket message.
type FillEvent struct {
	FillID   string `json:"trade_id"`
	OrderID  string `json:"order_id"`
	Ticker   string `json:"market_ticker"`
	Side     string `json:"side"`
	Action   string `json:"action"`
	Count    int    `json:"count"`
	YesPrice int    `json:"yes_price"`
	NoPrice  int    `json:"no_price"`
	IsTaker  bool   `json:"is_taker"`
	TS       int64  `json:"ts"`
}

// OrderEvent is a decoded `user:order` WebSocket message.
type OrderEvent struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"market_ticker"`
	Status         string `json:"status"`
	RemainingCount int    `json:"remaining_count"`
}
