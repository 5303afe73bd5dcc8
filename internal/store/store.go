// Package store persists orders, fills, positions, markets and agent
// state to Postgres. Persistence is advisory: every write logs and
// swallows its error so a database outage never stalls the trading path.
// When no database is configured Open returns the Null store.
package store

import (
	"context"
	"time"
)

// OrderRow is a locally tracked order.
type OrderRow struct {
	ClientOrderID  string
	ExchangeID     string
	Env            string
	AgentID        string
	Ticker         string
	Side           string
	Action         string
	Type           string
	Status         string
	Price          int
	Count          int
	RemainingCount int
	CreatedAt      time.Time
}

// FillRow is one execution report.
type FillRow struct {
	FillID    string
	OrderID   string
	Ticker    string
	Side      string
	Action    string
	Count     int
	YesPrice  int
	NoPrice   int
	IsTaker   bool
	CreatedAt time.Time
}

// PositionRow is a per-market net position.
type PositionRow struct {
	Ticker         string
	Position       int
	MarketExposure int64
	RealizedPnl    int64
	UpdatedAt      time.Time
}

// MarketRow is discovery metadata for one market.
type MarketRow struct {
	Ticker       string
	EventTicker  string
	SeriesTicker string
	Status       string
	LastPrice    int
	Volume       int64
	OpenInterest int64
	SeenAt       time.Time
}

// AgentStateRow is a snapshot of one agent's lifecycle state.
type AgentStateRow struct {
	AgentID   string
	Name      string
	State     string
	Mode      string
	Enabled   bool
	UpdatedAt time.Time
}

// Store is the persistence facade. Implementations never return errors
// to callers; failures are logged internally.
type Store interface {
	SaveMarket(ctx context.Context, env string, m MarketRow)
	SaveOrder(ctx context.Context, env string, o OrderRow)
	UpdateOrderStatus(ctx context.Context, env, clientOrderID, status string, remaining int)
	// SaveFill records a fill and reports whether it was newly recorded.
	// On a write failure it returns true so the fill is still processed.
	SaveFill(ctx context.Context, env string, f FillRow) bool
	ReplacePositions(ctx context.Context, env string, rows []PositionRow)
	SaveAgentState(ctx context.Context, env string, a AgentStateRow)

	LoadOpenOrders(ctx context.Context, env string) []OrderRow
	LoadPositions(ctx context.Context, env string) []PositionRow
	LoadRecentFillIDs(ctx context.Context, env string, limit int) []string

	// SetConfig upserts one system configuration key.
	SetConfig(ctx context.Context, env, key, value string)
	// GetConfig returns a configuration value, or "" when absent.
	GetConfig(ctx context.Context, env, key string) string

	Close()
}
