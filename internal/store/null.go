package store

import "context"

// Null is the no-op store used when persistence is unavailable.
type Null struct{}

var _ Store = Null{}

func (Null) SaveMarket(context.Context, string, MarketRow) {}

func (Null) SaveOrder(context.Context, string, OrderRow) {}

func (Null) UpdateOrderStatus(context.Context, string, string, string, int) {}

func (Null) SaveFill(context.Context, string, FillRow) bool { return true }

func (Null) ReplacePositions(context.Context, string, []PositionRow) {}

func (Null) SaveAgentState(context.Context, string, AgentStateRow) {}

func (Null) LoadOpenOrders(context.Context, string) []OrderRow { return nil }

func (Null) LoadPositions(context.Context, string) []PositionRow { return nil }

func (Null) LoadRecentFillIDs(context.Context, string, int) []string { return nil }

func (Null) SetConfig(context.Context, string, string, string) {}

func (Null) GetConfig(context.Context, string, string) string { return "" }

func (Null) Close() {}
