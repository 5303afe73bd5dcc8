// Package discovery keeps the market universe current: it pages the
// REST markets endpoint, refreshes cache metadata, persists rows, and
// drives the WebSocket subscription set from each market's status.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/store"
	"github.com/pollypredict/trader/internal/stream"
)

const (
	// Interval is the steady-state discovery period.
	Interval = 300 * time.Second

	pageLimit   = 1000
	pageBackoff = 5 * time.Second
)

// Internal market states derived from the exchange status.
const (
	stateActive    = "ACTIVE"
	stateWatchlist = "WATCHLIST"
	stateInactive  = "INACTIVE"
)

// marketChannels are subscribed per active or watchlisted market.
var marketChannels = []string{
	stream.ChannelTicker,
	stream.ChannelOrderbook,
	stream.ChannelTrade,
	stream.ChannelLifecycle,
}

// Subscriber is the slice of the stream client discovery drives.
type Subscriber interface {
	Subscribe(channel, ticker string)
	Unsubscribe(channel, ticker string)
	Subscribed(channel, ticker string) bool
}

// Discovery runs the periodic market scan for one environment.
type Discovery struct {
	client *api.Client
	cache  *cache.Cache
	store  store.Store
	subs   Subscriber
	env    string
	logger *slog.Logger
}

// New creates a discovery loop over one environment's REST client.
func New(env string, client *api.Client, c *cache.Cache, st store.Store, subs Subscriber, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.Null{}
	}
	return &Discovery{
		client: client,
		cache:  c,
		store:  st,
		subs:   subs,
		env:    env,
		logger: logger.With("component", "discovery", "env", env),
	}
}

// Run executes one startup scan and then one scan per interval until the
// context is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	d.RunOnce(ctx)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce pages the full market list. A failing page backs off and
// retries the same cursor, so one scan always sees a complete universe
// or is cancelled.
func (d *Discovery) RunOnce(ctx context.Context) {
	started := time.Now()
	total := 0
	cursor := ""

	for {
		resp, err := d.client.GetMarkets(ctx, "", pageLimit, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("markets page failed, retrying", "cursor", cursor, "error", err)
			select {
			case <-time.After(pageBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		for _, m := range resp.Markets {
			d.apply(ctx, m)
		}
		total += len(resp.Markets)

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	d.logger.Info("discovery scan complete", "markets", total, "elapsed", time.Since(started))
}

func (d *Discovery) apply(ctx context.Context, m api.Market) {
	d.cache.UpsertFromDiscovery(cache.DiscoveredMarket{
		Ticker:       m.Ticker,
		EventTicker:  m.EventTicker,
		SeriesTicker: seriesOf(m),
		Status:       m.Status,
		YesBid:       m.YesBid,
		NoBid:        m.NoBid,
		LastPrice:    m.LastPrice,
		Volume:       m.Volume,
		OpenInterest: m.OpenInterest,
	})
	d.store.SaveMarket(ctx, d.env, store.MarketRow{
		Ticker:       m.Ticker,
		EventTicker:  m.EventTicker,
		SeriesTicker: seriesOf(m),
		Status:       m.Status,
		LastPrice:    m.LastPrice,
		Volume:       m.Volume,
		OpenInterest: m.OpenInterest,
	})

	switch classify(m.Status) {
	case stateActive, stateWatchlist:
		for _, channel := range marketChannels {
			d.subs.Subscribe(channel, m.Ticker)
		}
	default:
		for _, channel := range marketChannels {
			if d.subs.Subscribed(channel, m.Ticker) {
				d.subs.Unsubscribe(channel, m.Ticker)
			}
		}
	}
}

// classify maps exchange statuses onto internal market states.
func classify(status string) string {
	switch status {
	case "open", "active":
		return stateActive
	case "halted":
		return stateWatchlist
	default:
		return stateInactive
	}
}

// seriesOf derives the series ticker. The markets endpoint does not
// return one directly; the event ticker's leading segment is the series.
func seriesOf(m api.Market) string {
	for i := 0; i < len(m.EventTicker); i++ {
		if m.EventTicker[i] == '-' {
			return m.EventTicker[:i]
		}
	}
	return m.EventTicker
}
