// Package dispatch is the single consumer of the inbound message queue.
// It decodes each message and routes it by type: market data into the
// cache, account data into the per-environment execution engines,
// position broadcasts to the event hub.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/stream"
	"github.com/pollypredict/trader/internal/trading"
)

// Dispatcher routes inbound stream messages.
type Dispatcher struct {
	queue   <-chan stream.Message
	cache   *cache.Cache
	engines map[string]*trading.Engine
	hub     *events.Hub
	logger  *slog.Logger
}

// New creates a dispatcher. engines maps environment name to the engine
// handling that environment's account messages.
func New(queue <-chan stream.Message, c *cache.Cache, engines map[string]*trading.Engine, hub *events.Hub, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   queue,
		cache:   c,
		engines: engines,
		hub:     hub,
		logger:  logger.With("component", "dispatch"),
	}
}

// Run consumes the queue until the context is cancelled. A failure in
// one message handler never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg stream.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "type", msg.Type, "panic", r)
		}
	}()

	switch msg.Type {
	case stream.ChannelTicker:
		d.handleTicker(msg)
	case stream.ChannelOrderbook, "orderbook_snapshot":
		d.handleOrderbook(msg)
	case stream.ChannelTrade:
		d.handleTrade(msg)
	case stream.ChannelLifecycle:
		d.handleLifecycle(msg)
	case stream.ChannelFill, "user:fill":
		d.handleFill(ctx, msg)
	case stream.ChannelOrder, "user:order":
		d.handleOrder(ctx, msg)
	case stream.ChannelPosition, "user:position":
		d.handlePosition(msg)
	default:
		d.logger.Debug("unrouted message type", "type", msg.Type)
	}
}

type tickerMsg struct {
	MarketTicker string `json:"market_ticker"`
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	NoBid        int    `json:"no_bid"`
	YesAsk       *int   `json:"yes_ask"`
	Price        *int   `json:"price"`
	LastPrice    *int   `json:"last_price"`
	Volume       *int64 `json:"volume"`
	OpenInterest *int64 `json:"open_interest"`
	TS           int64  `json:"ts"`
}

func (d *Dispatcher) handleTicker(msg stream.Message) {
	var m tickerMsg
	if err := json.Unmarshal(msg.Msg, &m); err != nil {
		d.logger.Warn("bad ticker message", "error", err)
		return
	}
	// The feed has carried the trade price under both names.
	if m.LastPrice == nil {
		m.LastPrice = m.Price
	}
	d.cache.UpsertFromTicker(cache.TickerUpdate{
		MarketTicker: m.MarketTicker,
		EventTicker:  m.EventTicker,
		SeriesTicker: m.SeriesTicker,
		Status:       m.Status,
		YesBid:       m.YesBid,
		NoBid:        m.NoBid,
		YesAsk:       m.YesAsk,
		LastPrice:    m.LastPrice,
		Volume:       m.Volume,
		OpenInterest: m.OpenInterest,
		TS:           m.TS,
	})
}

type orderbookMsg struct {
	MarketTicker string   `json:"market_ticker"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
}

func (d *Dispatcher) handleOrderbook(msg stream.Message) {
	var m orderbookMsg
	if err := json.Unmarshal(msg.Msg, &m); err != nil {
		d.logger.Warn("bad orderbook message", "error", err)
		return
	}
	d.cache.ApplyOrderbook(cache.OrderbookUpdate{
		MarketTicker: m.MarketTicker,
		Seq:          msg.Seq,
		Yes:          toLevels(m.Yes),
		No:           toLevels(m.No),
	})
}

func toLevels(pairs [][2]int) []cache.Level {
	levels := make([]cache.Level, len(pairs))
	for i, p := range pairs {
		levels[i] = cache.Level{Price: p[0], Qty: p[1]}
	}
	return levels
}

type tradeMsg struct {
	MarketTicker string `json:"market_ticker"`
	YesPrice     int    `json:"yes_price"`
	Count        int    `json:"count"`
	TakerSide    string `json:"taker_side"`
	TS           int64  `json:"ts"`
}

func (d *Dispatcher) handleTrade(msg stream.Message) {
	var m tradeMsg
	if err := json.Unmarshal(msg.Msg, &m); err != nil {
		d.logger.Warn("bad trade message", "error", err)
		return
	}
	d.cache.AppendTrade(cache.TradeUpdate{
		MarketTicker: m.MarketTicker,
		YesPrice:     m.YesPrice,
		Count:        m.Count,
		TakerSide:    m.TakerSide,
		TS:           m.TS,
	})
	if d.hub != nil {
		d.hub.Publish(events.New("trade", map[string]any{
			"market_ticker": m.MarketTicker,
			"yes_price":     m.YesPrice,
			"count":         m.Count,
			"taker_side":    m.TakerSide,
		}))
	}
}

type lifecycleMsg struct {
	MarketTicker string `json:"market_ticker"`
	Status       string `json:"status"`
}

func (d *Dispatcher) handleLifecycle(msg stream.Message) {
	var m lifecycleMsg
	if err := json.Unmarshal(msg.Msg, &m); err != nil {
		d.logger.Warn("bad lifecycle message", "error", err)
		return
	}
	d.cache.UpdateStatus(m.MarketTicker, m.Status)
}

func (d *Dispatcher) handleFill(ctx context.Context, msg stream.Message) {
	engine, ok := d.engines[msg.Env]
	if !ok {
		d.logger.Warn("fill for unknown environment", "env", msg.Env)
		return
	}
	var f trading.FillEvent
	if err := json.Unmarshal(msg.Msg, &f); err != nil {
		d.logger.Warn("bad fill message", "error", err)
		return
	}
	engine.HandleFill(ctx, f)
}

func (d *Dispatcher) handleOrder(ctx context.Context, msg stream.Message) {
	engine, ok := d.engines[msg.Env]
	if !ok {
		d.logger.Warn("order update for unknown environment", "env", msg.Env)
		return
	}
	var o trading.OrderEvent
	if err := json.Unmarshal(msg.Msg, &o); err != nil {
		d.logger.Warn("bad order message", "error", err)
		return
	}
	engine.HandleOrderUpdate(ctx, o)
}

func (d *Dispatcher) handlePosition(msg stream.Message) {
	if d.hub == nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(msg.Msg, &fields); err != nil {
		d.logger.Warn("bad position message", "error", err)
		return
	}
	fields["env"] = msg.Env
	d.hub.Publish(events.New("position_update", fields))
}
