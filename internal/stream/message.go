package stream

import "encoding/json"

// Channels the client subscribes to. Market channels carry a ticker;
// account channels do not.
const (
	ChannelTicker    = "ticker"
	ChannelOrderbook = "orderbook_delta"
	ChannelTrade     = "trade"
	ChannelLifecycle = "market_lifecycle"
	ChannelFill      = "fill"
	ChannelOrder     = "order"
	ChannelPosition  = "market_positions"
)

// Message is one data message tagged with the environment it came from.
// Msg is the inner payload; Seq is the envelope sequence number, set for
// orderbook deltas.
type Message struct {
	Env  string
	Type string
	Seq  int64
	Msg  json.RawMessage
}

// envelope is the wire framing of every inbound message.
type envelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// command is the wire framing of every outbound command.
type command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

type subscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// subKey identifies one durable subscription.
type subKey struct {
	Channel string
	Ticker  string
}
