package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// GetBalance fetches the account balance in cents.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	data, err := c.Request(ctx, "GET", "/portfolio/balance", nil, nil)
	if err != nil {
		return nil, err
	}

	var out Balance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding balance: %w", err)
	}
	return &out, nil
}

// GetRestingOrders fetches every resting order, following the cursor
// until the exchange reports no more pages.
func (c *Client) GetRestingOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	cursor := ""
	for {
		query := url.Values{}
		query.Set("status", "resting")
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		data, err := c.Request(ctx, "GET", "/portfolio/orders", query, nil)
		if err != nil {
			return nil, err
		}

		var page OrdersResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decoding orders page: %w", err)
		}
		orders = append(orders, page.Orders...)

		if page.Cursor == "" {
			return orders, nil
		}
		cursor = page.Cursor
	}
}

// GetOrder fetches a single order by exchange order ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	data, err := c.Request(ctx, "GET", "/portfolio/orders/"+orderID, nil, nil)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	return &out.Order, nil
}

// CreateOrder submits a new order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	data, err := c.Request(ctx, "POST", "/portfolio/orders", nil, req)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding create order response: %w", err)
	}
	return &out.Order, nil
}

// CancelOrder cancels a resting order by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.Request(ctx, "DELETE", "/portfolio/orders/"+orderID, nil, nil)
	return err
}

// GetPositions fetches all market positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	data, err := c.Request(ctx, "GET", "/portfolio/positions", nil, nil)
	if err != nil {
		return nil, err
	}

	var out PositionsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}
	return out.MarketPositions, nil
}

// GetFills fetches the most recent fills, newest first.
func (c *Client) GetFills(ctx context.Context, limit int) ([]Fill, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	data, err := c.Request(ctx, "GET", "/portfolio/fills", query, nil)
	if err != nil {
		return nil, err
	}

	var out FillsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding fills: %w", err)
	}
	return out.Fills, nil
}
