package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// GetMarkets fetches one page of markets. An empty cursor starts from the
// beginning; the response cursor is empty on the last page.
func (c *Client) GetMarkets(ctx context.Context, status string, limit int, cursor string) (*MarketsResponse, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	data, err := c.Request(ctx, "GET", "/markets", query, nil)
	if err != nil {
		return nil, err
	}

	var out MarketsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding markets response: %w", err)
	}
	return &out, nil
}

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	data, err := c.Request(ctx, "GET", "/markets/"+ticker, nil, nil)
	if err != nil {
		return nil, err
	}

	var out MarketResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding market response: %w", err)
	}
	return &out.Market, nil
}

// GetExchangeStatus fetches the exchange-wide trading flags.
func (c *Client) GetExchangeStatus(ctx context.Context) (*ExchangeStatus, error) {
	data, err := c.Request(ctx, "GET", "/exchange/status", nil, nil)
	if err != nil {
		return nil, err
	}

	var out ExchangeStatus
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding exchange status: %w", err)
	}
	return &out, nil
}
