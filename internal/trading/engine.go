package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/store"
)

const (
	maxSubmitAttempts = 5
	submitBaseDelay   = 100 * time.Millisecond

	// warmFillHistory is how many persisted fill IDs seed the dedup set
	// on restart.
	warmFillHistory = 100
)

// Engine submits orders for one environment and tracks the resulting
// orders, fills and positions in memory, with the store keeping durable
// copies. An Unauthorized response latches a halt until credentials are
// reloaded.
type Engine struct {
	env    string
	client *api.Client
	store  store.Store
	hub    *events.Hub
	logger *slog.Logger

	mu        sync.Mutex
	halted    bool
	seen      map[string]struct{} // client order IDs ever accepted
	seenFills map[string]struct{}
	open      map[string]*Order // keyed by exchange order ID
	positions map[string]*Position
}

// NewEngine creates an execution engine for one environment.
func NewEngine(env string, client *api.Client, st store.Store, hub *events.Hub, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.Null{}
	}
	return &Engine{
		env:       env,
		client:    client,
		store:     st,
		hub:       hub,
		logger:    logger.With("component", "engine", "env", env),
		seen:      make(map[string]struct{}),
		seenFills: make(map[string]struct{}),
		open:      make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

// Environment returns the environment this engine submits to.
func (e *Engine) Environment() string {
	return e.env
}

// LoadState warm-starts the in-memory maps from the store. Called once
// before any intent is accepted.
func (e *Engine) LoadState(ctx context.Context) {
	orders := e.store.LoadOpenOrders(ctx, e.env)
	positions := e.store.LoadPositions(ctx, e.env)
	fillIDs := e.store.LoadRecentFillIDs(ctx, e.env, warmFillHistory)

	e.mu.Lock()
	for _, row := range orders {
		o := &Order{
			OrderID:        row.ExchangeID,
			ClientOrderID:  row.ClientOrderID,
			AgentID:        row.AgentID,
			Ticker:         row.Ticker,
			Side:           row.Side,
			Action:         row.Action,
			Type:           row.Type,
			Status:         row.Status,
			Price:          row.Price,
			Count:          row.Count,
			RemainingCount: row.RemainingCount,
			Env:            e.env,
			CreatedAt:      row.CreatedAt,
		}
		e.seen[o.ClientOrderID] = struct{}{}
		if o.OrderID != "" {
			e.open[o.OrderID] = o
		}
	}
	for _, row := range positions {
		e.positions[row.Ticker] = &Position{
			Ticker:         row.Ticker,
			Position:       row.Position,
			MarketExposure: row.MarketExposure,
			RealizedPnl:    row.RealizedPnl,
		}
	}
	for _, id := range fillIDs {
		e.seenFills[id] = struct{}{}
	}
	e.mu.Unlock()

	e.logger.Info("state loaded", "open_orders", len(orders), "positions", len(positions), "known_fills", len(fillIDs))
}

// Halted reports whether submission is latched off after a 401.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// ClearHalt re-enables submission. Called when credentials are reloaded.
func (e *Engine) ClearHalt() {
	e.mu.Lock()
	was := e.halted
	e.halted = false
	e.mu.Unlock()
	if was {
		e.logger.Info("execution halt cleared")
	}
}

// Execute validates and submits one approved intent.
func (e *Engine) Execute(ctx context.Context, intent TradeIntent) {
	if err := validateIntent(intent); err != nil {
		e.logger.Warn("invalid intent dropped", "agent", intent.AgentName, "error", err)
		return
	}

	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		e.logger.Warn("intent dropped, execution halted", "client_order_id", intent.ClientOrderID)
		return
	}
	if _, dup := e.seen[intent.ClientOrderID]; dup {
		e.mu.Unlock()
		e.logger.Warn("duplicate client_order_id dropped", "client_order_id", intent.ClientOrderID)
		return
	}
	e.seen[intent.ClientOrderID] = struct{}{}
	e.mu.Unlock()

	req := api.CreateOrderRequest{
		Ticker:        intent.MarketTicker,
		ClientOrderID: intent.ClientOrderID,
		Side:          intent.Side,
		Action:        intent.Action,
		Type:          intent.OrderType,
		Count:         intent.Count,
	}
	if intent.Side == SideYes {
		req.YesPrice = intent.Price
	} else {
		req.NoPrice = intent.Price
	}

	var submitted *api.Order
	var lastErr error
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		if attempt > 0 {
			delay := submitBaseDelay * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		order, err := e.client.CreateOrder(ctx, req)
		if err == nil {
			submitted = order
			break
		}
		lastErr = err

		if errors.Is(err, api.ErrUnauthorized) {
			e.mu.Lock()
			e.halted = true
			e.mu.Unlock()
			e.logger.Error("unauthorized, halting execution", "client_order_id", intent.ClientOrderID)
			e.publish("execution_halted", map[string]any{"env": e.env})
			return
		}
		e.logger.Warn("order submit failed",
			"client_order_id", intent.ClientOrderID,
			"attempt", attempt+1,
			"error", err)
	}

	if submitted == nil {
		e.logger.Error("order submit exhausted", "client_order_id", intent.ClientOrderID, "error", lastErr)
		e.publish("order_failed", map[string]any{
			"agent_id":        intent.AgentID,
			"client_order_id": intent.ClientOrderID,
			"ticker":          intent.MarketTicker,
		})
		return
	}

	order := &Order{
		OrderID:        submitted.OrderID,
		ClientOrderID:  intent.ClientOrderID,
		AgentID:        intent.AgentID,
		Ticker:         intent.MarketTicker,
		Side:           intent.Side,
		Action:         intent.Action,
		Type:           intent.OrderType,
		Status:         submitted.Status,
		Price:          intent.Price,
		Count:          intent.Count,
		RemainingCount: submitted.RemainingCount,
		Env:            e.env,
		CreatedAt:      time.Now().UTC(),
	}
	if order.Status == "" {
		order.Status = "resting"
	}
	if order.RemainingCount == 0 {
		order.RemainingCount = intent.Count
	}

	e.mu.Lock()
	e.open[order.OrderID] = order
	e.mu.Unlock()

	e.store.SaveOrder(ctx, e.env, orderRow(order))
	e.logger.Info("order submitted",
		"order_id", order.OrderID,
		"ticker", order.Ticker,
		"side", order.Side,
		"price", order.Price,
		"count", order.Count)
	e.publish("order_submitted", map[string]any{
		"order_id":        order.OrderID,
		"client_order_id": order.ClientOrderID,
		"agent_id":        order.AgentID,
		"ticker":          order.Ticker,
		"side":            order.Side,
		"action":          order.Action,
		"price":           order.Price,
		"count":           order.Count,
	})
}

func validateIntent(intent TradeIntent) error {
	if intent.MarketTicker == "" {
		return errors.New("empty market ticker")
	}
	if intent.ClientOrderID == "" {
		return errors.New("empty client_order_id")
	}
	if intent.Price < 1 || intent.Price > 99 {
		return fmt.Errorf("price %d out of range", intent.Price)
	}
	if intent.Count <= 0 {
		return fmt.Errorf("count %d not positive", intent.Count)
	}
	if intent.Action != ActionBuy && intent.Action != ActionSell {
		return fmt.Errorf("unknown action %q", intent.Action)
	}
	if intent.Side != SideYes && intent.Side != SideNo {
		return fmt.Errorf("unknown side %q", intent.Side)
	}
	return nil
}

// HandleFill applies a user fill event to the matching open order and the
// position book. Duplicate fill IDs are ignored.
func (e *Engine) HandleFill(ctx context.Context, f FillEvent) {
	if f.FillID == "" {
		return
	}

	e.mu.Lock()
	if _, dup := e.seenFills[f.FillID]; dup {
		e.mu.Unlock()
		return
	}
	e.seenFills[f.FillID] = struct{}{}

	filled := false
	var clientOrderID, orderStatus string
	var orderRemaining int
	if order, ok := e.open[f.OrderID]; ok {
		order.RemainingCount -= f.Count
		if order.RemainingCount <= 0 {
			order.RemainingCount = 0
			order.Status = "filled"
			delete(e.open, f.OrderID)
			filled = true
		} else {
			order.Status = "partially_filled"
		}
		clientOrderID, orderStatus, orderRemaining = order.ClientOrderID, order.Status, order.RemainingCount
	}
	e.applyFillToPosition(f)
	e.mu.Unlock()

	// A filled order leaves the open set, so reconciliation will never
	// revisit it; its terminal status has to be persisted here.
	if clientOrderID != "" {
		e.store.UpdateOrderStatus(ctx, e.env, clientOrderID, orderStatus, orderRemaining)
	}

	e.store.SaveFill(ctx, e.env, store.FillRow{
		FillID:   f.FillID,
		OrderID:  f.OrderID,
		Ticker:   f.Ticker,
		Side:     f.Side,
		Action:   f.Action,
		Count:    f.Count,
		YesPrice: f.YesPrice,
		NoPrice:  f.NoPrice,
		IsTaker:  f.IsTaker,
	})
	e.persistPositions(ctx)

	e.logger.Info("fill applied",
		"fill_id", f.FillID,
		"order_id", f.OrderID,
		"ticker", f.Ticker,
		"count", f.Count,
		"order_filled", filled)
	e.publish("fill", map[string]any{
		"fill_id":  f.FillID,
		"order_id": f.OrderID,
		"ticker":   f.Ticker,
		"side":     f.Side,
		"action":   f.Action,
		"count":    f.Count,
	})
}

// applyFillToPosition updates net yes exposure. Buying yes or selling no
// increases it; the opposite trades decrease it. Caller holds e.mu.
func (e *Engine) applyFillToPosition(f FillEvent) {
	pos, ok := e.positions[f.Ticker]
	if !ok {
		pos = &Position{Ticker: f.Ticker}
		e.positions[f.Ticker] = pos
	}

	delta := f.Count
	if (f.Side == SideYes) != (f.Action == ActionBuy) {
		delta = -delta
	}
	pos.Position += delta
	pos.MarketExposure += int64(f.Count * f.YesPrice)
}

// HandleOrderUpdate applies a user order event. Terminal statuses remove
// the order from the open set.
func (e *Engine) HandleOrderUpdate(ctx context.Context, u OrderEvent) {
	if u.OrderID == "" {
		return
	}

	e.mu.Lock()
	order, ok := e.open[u.OrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	order.Status = u.Status
	if u.RemainingCount > 0 {
		order.RemainingCount = u.RemainingCount
	}
	terminal := isTerminal(u.Status)
	if terminal {
		delete(e.open, u.OrderID)
	}
	clientID := order.ClientOrderID
	remaining := order.RemainingCount
	e.mu.Unlock()

	e.store.UpdateOrderStatus(ctx, e.env, clientID, u.Status, remaining)
	e.logger.Info("order update", "order_id", u.OrderID, "status", u.Status, "terminal", terminal)
	e.publish("order_update", map[string]any{
		"order_id": u.OrderID,
		"ticker":   order.Ticker,
		"status":   u.Status,
	})
}

func isTerminal(status string) bool {
	switch status {
	case "cancelled", "canceled", "filled", "expired":
		return true
	}
	return false
}

// Cancel cancels a resting order on the exchange and removes it locally.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	if err := e.client.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	e.MarkTerminal(ctx, orderID, "cancelled")
	return nil
}

// MarkTerminal force-removes an open order with the given terminal
// status. Used by cancellation and reconciliation.
func (e *Engine) MarkTerminal(ctx context.Context, orderID, status string) {
	e.mu.Lock()
	order, ok := e.open[orderID]
	if ok {
		order.Status = status
		delete(e.open, orderID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	e.store.UpdateOrderStatus(ctx, e.env, order.ClientOrderID, status, order.RemainingCount)
	e.publish("order_update", map[string]any{
		"order_id": orderID,
		"ticker":   order.Ticker,
		"status":   status,
	})
}

// SyncOrder adopts the exchange's view of an open order. Used by
// reconciliation on status mismatches.
func (e *Engine) SyncOrder(ctx context.Context, exchange api.Order) {
	e.mu.Lock()
	order, ok := e.open[exchange.OrderID]
	if ok {
		order.Status = exchange.Status
		order.RemainingCount = exchange.RemainingCount
	}
	e.mu.Unlock()
	if ok {
		e.store.UpdateOrderStatus(ctx, e.env, order.ClientOrderID, exchange.Status, exchange.RemainingCount)
	}
}

// SetPositions overwrites the position book wholesale. Used by
// reconciliation.
func (e *Engine) SetPositions(ctx context.Context, positions []Position) {
	e.mu.Lock()
	e.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		p := positions[i]
		e.positions[p.Ticker] = &p
	}
	e.mu.Unlock()
	e.persistPositions(ctx)
}

// RecordFill inserts a fill into the dedup set without touching open
// orders. Reports whether the fill was previously unknown. Used by
// reconciliation for REST-sourced fills.
func (e *Engine) RecordFill(ctx context.Context, f FillEvent) bool {
	e.mu.Lock()
	if _, dup := e.seenFills[f.FillID]; dup {
		e.mu.Unlock()
		return false
	}
	e.seenFills[f.FillID] = struct{}{}
	e.mu.Unlock()

	e.store.SaveFill(ctx, e.env, store.FillRow{
		FillID:   f.FillID,
		OrderID:  f.OrderID,
		Ticker:   f.Ticker,
		Side:     f.Side,
		Action:   f.Action,
		Count:    f.Count,
		YesPrice: f.YesPrice,
		NoPrice:  f.NoPrice,
		IsTaker:  f.IsTaker,
	})
	return true
}

// OpenOrders returns a copy of the open order set.
func (e *Engine) OpenOrders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Order, 0, len(e.open))
	for _, o := range e.open {
		out = append(out, *o)
	}
	return out
}

// Positions returns a copy of the position book.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) persistPositions(ctx context.Context) {
	positions := e.Positions()
	rows := make([]store.PositionRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, store.PositionRow{
			Ticker:         p.Ticker,
			Position:       p.Position,
			MarketExposure: p.MarketExposure,
			RealizedPnl:    p.RealizedPnl,
		})
	}
	e.store.ReplacePositions(ctx, e.env, rows)
}

func (e *Engine) publish(eventType string, fields map[string]any) {
	if e.hub != nil {
		e.hub.Publish(events.New(eventType, fields))
	}
}

func orderRow(o *Order) store.OrderRow {
	return store.OrderRow{
		ClientOrderID:  o.ClientOrderID,
		ExchangeID:     o.OrderID,
		Env:            o.Env,
		AgentID:        o.AgentID,
		Ticker:         o.Ticker,
		Side:           o.Side,
		Action:         o.Action,
		Type:           o.Type,
		Status:         o.Status,
		Price:          o.Price,
		Count:          o.Count,
		RemainingCount: o.RemainingCount,
		CreatedAt:      o.CreatedAt,
	}
}
