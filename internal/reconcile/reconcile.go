// Package reconcile realigns local order, position and fill state with
// the exchange. It runs at startup before agents activate, on a fixed
// interval, and after every WebSocket reconnect.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/trading"
)

const (
	// Interval is the steady-state reconciliation period.
	Interval = 3600 * time.Second

	fillLookback = 100
)

// Reconciler realigns one environment's engine with the exchange.
type Reconciler struct {
	env    string
	client *api.Client
	engine *trading.Engine
	hub    *events.Hub
	logger *slog.Logger
}

// New creates a reconciler for one environment.
func New(env string, client *api.Client, engine *trading.Engine, hub *events.Hub, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		env:    env,
		client: client,
		engine: engine,
		hub:    hub,
		logger: logger.With("component", "reconcile", "env", env),
	}
}

// Run executes one pass per interval until cancelled. The startup pass
// is the caller's responsibility so ordering against agent activation
// stays explicit.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a full order, position and fill realignment. Failures
// are logged and leave local state untouched; the next pass retries.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if !r.client.IsConfigured() {
		r.logger.Debug("skipping reconciliation, no credentials")
		return
	}

	started := time.Now()
	discrepancies := 0
	discrepancies += r.reconcileOrders(ctx)
	discrepancies += r.reconcilePositions(ctx)
	discrepancies += r.reconcileFills(ctx)

	r.logger.Info("reconciliation complete",
		"discrepancies", discrepancies,
		"elapsed", time.Since(started))
	if r.hub != nil {
		r.hub.Publish(events.New("reconciliation_complete", map[string]any{
			"env":           r.env,
			"discrepancies": discrepancies,
		}))
	}
}

// reconcileOrders marks locally-open orders that the exchange no longer
// rests as cancelled, and adopts the exchange's status on mismatches.
func (r *Reconciler) reconcileOrders(ctx context.Context) int {
	resting, err := r.client.GetRestingOrders(ctx)
	if err != nil {
		r.logger.Warn("order reconciliation failed", "error", err)
		return 0
	}

	byID := make(map[string]api.Order, len(resting))
	for _, o := range resting {
		byID[o.OrderID] = o
	}

	discrepancies := 0
	for _, local := range r.engine.OpenOrders() {
		exchange, found := byID[local.OrderID]
		if !found {
			r.logger.Warn("local order absent on exchange, marking cancelled",
				"order_id", local.OrderID,
				"ticker", local.Ticker)
			r.engine.MarkTerminal(ctx, local.OrderID, "cancelled")
			discrepancies++
			continue
		}
		if exchange.Status != local.Status || exchange.RemainingCount != local.RemainingCount {
			r.logger.Warn("order state mismatch, adopting exchange view",
				"order_id", local.OrderID,
				"local_status", local.Status,
				"exchange_status", exchange.Status)
			r.engine.SyncOrder(ctx, exchange)
			discrepancies++
		}
	}
	return discrepancies
}

// reconcilePositions overwrites the local position book wholesale.
func (r *Reconciler) reconcilePositions(ctx context.Context) int {
	remote, err := r.client.GetPositions(ctx)
	if err != nil {
		r.logger.Warn("position reconciliation failed", "error", err)
		return 0
	}

	local := make(map[string]trading.Position)
	for _, p := range r.engine.Positions() {
		local[p.Ticker] = p
	}

	discrepancies := 0
	positions := make([]trading.Position, 0, len(remote))
	for _, p := range remote {
		if have, ok := local[p.Ticker]; !ok || have.Position != p.Position {
			discrepancies++
		}
		positions = append(positions, trading.Position{
			Ticker:         p.Ticker,
			Position:       p.Position,
			MarketExposure: p.MarketExposure,
			RealizedPnl:    p.RealizedPnl,
		})
	}
	for ticker := range local {
		if _, ok := findPosition(remote, ticker); !ok {
			discrepancies++
		}
	}

	r.engine.SetPositions(ctx, positions)
	return discrepancies
}

func findPosition(positions []api.Position, ticker string) (api.Position, bool) {
	for _, p := range positions {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return api.Position{}, false
}

// reconcileFills backfills recent fills missed while disconnected.
func (r *Reconciler) reconcileFills(ctx context.Context) int {
	fills, err := r.client.GetFills(ctx, fillLookback)
	if err != nil {
		r.logger.Warn("fill reconciliation failed", "error", err)
		return 0
	}

	missed := 0
	for _, f := range fills {
		if r.engine.RecordFill(ctx, trading.FillEvent{
			FillID:   f.TradeID,
			OrderID:  f.OrderID,
			Ticker:   f.Ticker,
			Side:     f.Side,
			Action:   f.Action,
			Count:    f.Count,
			YesPrice: f.YesPrice,
			NoPrice:  f.NoPrice,
			IsTaker:  f.IsTaker,
		}) {
			missed++
		}
	}
	if missed > 0 {
		r.logger.Warn("backfilled fills missed over the stream", "count", missed)
	}
	return missed
}
