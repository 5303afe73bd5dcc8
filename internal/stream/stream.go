// Package stream maintains one WebSocket connection per environment.
// The desired subscription set is durable across reconnects; the
// exchange session is not, so every successful login replays the full
// set before data flows again.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pollypredict/trader/internal/auth"
)

const (
	handshakeTimeout = 10 * time.Second
	loginTimeout     = 10 * time.Second
	writeTimeout     = 5 * time.Second

	pingInterval = 10 * time.Second
	pongTimeout  = 5 * time.Second

	// Subscribe commands carry at most this many tickers; batches are
	// spaced out so a large replay does not trip the exchange.
	subscribeBatchSize  = 1000
	subscribeBatchPause = 50 * time.Millisecond

	// waitForCredentials is how long the run loop sleeps while no
	// credentials are loaded.
	waitForCredentials = 5 * time.Second
)

// backoffLadder is the reconnect delay schedule, saturating at the last
// entry. The attempt counter resets after each successful session.
var backoffLadder = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	30 * time.Second,
}

// Client is the WebSocket client for one environment. Data messages are
// tagged with the environment and placed on the shared outbound queue;
// control frames are consumed internally.
type Client struct {
	env    string
	url    string
	out    chan<- Message
	logger *slog.Logger
	dialer websocket.Dialer

	credMu sync.RWMutex
	creds  *auth.Credentials

	// writeMu serializes writes; gorilla/websocket allows one writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[subKey]struct{}
	obSeq     map[string]int64
	cmdID     int64
	hooks     []func()
}

// NewClient creates a stream client. out is the shared inbound queue
// consumed by the dispatcher.
func NewClient(env, url string, out chan<- Message, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		env:    env,
		url:    url,
		out:    out,
		logger: logger.With("component", "stream", "env", env),
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		subs:   make(map[subKey]struct{}),
		obSeq:  make(map[string]int64),
	}
}

// SetCredentials loads signing credentials. The run loop picks them up
// on its next connection attempt.
func (c *Client) SetCredentials(creds *auth.Credentials) {
	c.credMu.Lock()
	c.creds = creds
	c.credMu.Unlock()
}

// ClearCredentials drops credentials and closes any live session.
func (c *Client) ClearCredentials() {
	c.credMu.Lock()
	c.creds = nil
	c.credMu.Unlock()
	c.closeConn()
}

func (c *Client) credentials() *auth.Credentials {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.creds
}

// IsConnected reports whether a logged-in session is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnReconnect registers a hook fired after every successful re-subscribe.
// Used to trigger reconciliation.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Subscribe adds a durable subscription and, when a session is live,
// issues the subscribe command immediately.
func (c *Client) Subscribe(channel, ticker string) {
	key := subKey{Channel: channel, Ticker: ticker}

	c.mu.Lock()
	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		return
	}
	c.subs[key] = struct{}{}
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.sendSubscribe(conn, channel, tickersOrNil(ticker))
	}
}

// Unsubscribe removes a durable subscription and informs the exchange
// when a session is live.
func (c *Client) Unsubscribe(channel, ticker string) {
	key := subKey{Channel: channel, Ticker: ticker}

	c.mu.Lock()
	if _, ok := c.subs[key]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, key)
	delete(c.obSeq, ticker)
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.send(conn, command{
			ID:  c.nextCmdID(),
			Cmd: "unsubscribe",
			Params: subscribeParams{
				Channels:      []string{channel},
				MarketTickers: tickersOrNil(ticker),
			},
		})
	}
}

// Subscribed reports whether a subscription is in the desired set.
func (c *Client) Subscribed(channel, ticker string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[subKey{Channel: channel, Ticker: ticker}]
	return ok
}

// SubscriptionCount returns the size of the desired set.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Run drives the connect / login / subscribe / read cycle until the
// context is cancelled. Each failed session backs off along the ladder;
// a successful session resets the attempt counter.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if c.credentials() == nil {
			select {
			case <-time.After(waitForCredentials):
				continue
			case <-ctx.Done():
				return
			}
		}

		ok := c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		if ok {
			attempt = 0
		}
		delay := backoffLadder[min(attempt, len(backoffLadder)-1)]
		attempt++
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one full connection lifetime. Returns true if login and
// subscription replay succeeded, regardless of how the session later
// ended.
func (c *Client) session(ctx context.Context) bool {
	creds := c.credentials()
	if creds == nil {
		return false
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Warn("dial failed", "error", err)
		return false
	}
	defer conn.Close()

	if err := c.login(conn, creds); err != nil {
		c.logger.Warn("login failed", "error", err)
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.obSeq = make(map[string]int64)
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := c.resubscribeAll(ctx, conn); err != nil {
		c.logger.Warn("subscription replay failed", "error", err)
		return false
	}
	c.logger.Info("session established", "subscriptions", c.SubscriptionCount())

	for _, fn := range hooks {
		fn()
	}

	pongCh := make(chan struct{}, 1)
	sessionDone := make(chan struct{})
	pingDone := make(chan struct{})
	go c.pingLoop(ctx, conn, pongCh, sessionDone, pingDone)
	defer func() {
		close(sessionDone)
		<-pingDone
	}()

	// Context cancellation must unblock ReadMessage.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("read failed", "error", err)
			}
			return true
		}
		c.handleMessage(conn, data, pongCh)
	}
}

// login sends the signed login command and waits for the exchange to
// accept it.
func (c *Client) login(conn *websocket.Conn, creds *auth.Credentials) error {
	id := c.nextCmdID()
	cmd, err := creds.WSLogin(id)
	if err != nil {
		return fmt.Errorf("signing login: %w", err)
	}
	if err := c.send(conn, cmd); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	deadline := time.Now().Add(loginTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for login response: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.ID != id {
			continue
		}
		if env.Type == "error" {
			return fmt.Errorf("login rejected: %s", string(env.Msg))
		}
		return nil
	}
}

// resubscribeAll replays the durable set grouped by channel, batching
// market tickers and pausing between batches.
func (c *Client) resubscribeAll(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	byChannel := make(map[string][]string)
	for key := range c.subs {
		if key.Ticker == "" {
			if _, ok := byChannel[key.Channel]; !ok {
				byChannel[key.Channel] = nil
			}
			continue
		}
		byChannel[key.Channel] = append(byChannel[key.Channel], key.Ticker)
	}
	c.mu.Unlock()

	first := true
	for channel, tickers := range byChannel {
		if len(tickers) == 0 {
			if err := c.sendSubscribe(conn, channel, nil); err != nil {
				return err
			}
			continue
		}
		for start := 0; start < len(tickers); start += subscribeBatchSize {
			if !first {
				select {
				case <-time.After(subscribeBatchPause):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			first = false

			end := min(start+subscribeBatchSize, len(tickers))
			if err := c.sendSubscribe(conn, channel, tickers[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) sendSubscribe(conn *websocket.Conn, channel string, tickers []string) error {
	return c.send(conn, command{
		ID:  c.nextCmdID(),
		Cmd: "subscribe",
		Params: subscribeParams{
			Channels:      []string{channel},
			MarketTickers: tickers,
		},
	})
}

// pingLoop sends an application-level ping every pingInterval and closes
// the connection when no pong arrives in time.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, pongCh <-chan struct{}, sessionDone <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			return
		case <-ticker.C:
		}

		if err := c.send(conn, command{ID: c.nextCmdID(), Cmd: "ping"}); err != nil {
			conn.Close()
			return
		}

		select {
		case <-pongCh:
		case <-time.After(pongTimeout):
			c.logger.Warn("pong timeout, closing connection")
			conn.Close()
			return
		case <-ctx.Done():
			return
		case <-sessionDone:
			return
		}
	}
}

// handleMessage classifies one inbound frame: control frames are consumed
// here, data frames go to the shared queue after sequence checking.
func (c *Client) handleMessage(conn *websocket.Conn, data []byte, pongCh chan<- struct{}) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("unparseable message dropped", "error", err)
		return
	}

	switch env.Type {
	case "pong":
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return
	case "subscribed", "unsubscribed", "ok":
		return
	case "error":
		c.logger.Warn("exchange error frame", "msg", string(env.Msg))
		return
	}

	if env.Type == ChannelOrderbook {
		if c.orderbookGap(conn, env) {
			return
		}
	}

	msg := Message{Env: c.env, Type: env.Type, Seq: env.Seq, Msg: env.Msg}
	select {
	case c.out <- msg:
	default:
		c.logger.Warn("inbound queue full, dropping message", "type", env.Type)
	}
}

// orderbookGap tracks per-market sequence numbers. On a gap the message
// is dropped and the subscription is cycled so the exchange sends a
// fresh snapshot.
func (c *Client) orderbookGap(conn *websocket.Conn, env envelope) bool {
	var body struct {
		MarketTicker string `json:"market_ticker"`
	}
	if err := json.Unmarshal(env.Msg, &body); err != nil || body.MarketTicker == "" {
		return false
	}
	ticker := body.MarketTicker

	c.mu.Lock()
	last, tracked := c.obSeq[ticker]
	if tracked && env.Seq != last+1 {
		delete(c.obSeq, ticker)
		c.mu.Unlock()

		c.logger.Warn("orderbook sequence gap",
			"ticker", ticker,
			"expected", last+1,
			"got", env.Seq)
		c.Unsubscribe(ChannelOrderbook, ticker)
		c.Subscribe(ChannelOrderbook, ticker)
		return true
	}
	c.obSeq[ticker] = env.Seq
	c.mu.Unlock()
	return false
}

func (c *Client) send(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) nextCmdID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmdID++
	return c.cmdID
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func tickersOrNil(ticker string) []string {
	if ticker == "" {
		return nil
	}
	return []string{ticker}
}
