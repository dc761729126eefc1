package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nuwan94/leaf/pkg/types"
)

// OrderQuery filters order listings. Page is 1-based.
type OrderQuery struct {
	Status   string
	Page     int
	PageSize int
}

func (q OrderQuery) values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return v
}

// ListOrders returns the orders visible to the authenticated user: a
// customer's own orders, a farmer's orders containing their products, or
// every order for an admin.
func (c *Client) ListOrders(ctx context.Context, q OrderQuery) (*types.Page[types.Order], error) {
	var out types.Page[types.Order]
	err := c.do(ctx, &request{method: http.MethodGet, path: "/orders", query: q.values(), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns one order.
func (c *Client) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	var out types.Order
	err := c.do(ctx, &request{method: http.MethodGet, path: "/orders/" + url.PathEscape(id), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, in types.CreateOrderRequest) (*types.Order, error) {
	var out types.Order
	if err := c.do(ctx, &request{method: http.MethodPost, path: "/orders", body: in, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateOrderStatus moves an order to status (admin and farmer).
func (c *Client) UpdateOrderStatus(ctx context.Context, id, status string) (*types.Order, error) {
	var out types.Order
	err := c.do(ctx, &request{
		method: http.MethodPut,
		path:   "/orders/" + url.PathEscape(id) + "/status",
		body:   types.StatusUpdate{Status: status},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDeliveries returns the orders assigned to the authenticated delivery agent.
func (c *Client) ListDeliveries(ctx context.Context, q OrderQuery) (*types.Page[types.Order], error) {
	var out types.Page[types.Order]
	err := c.do(ctx, &request{method: http.MethodGet, path: "/delivery/orders", query: q.values(), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDeliveryStatus records delivery progress on an assigned order.
func (c *Client) UpdateDeliveryStatus(ctx context.Context, id, status string) (*types.Order, error) {
	var out types.Order
	err := c.do(ctx, &request{
		method: http.MethodPut,
		path:   "/delivery/orders/" + url.PathEscape(id) + "/status",
		body:   types.StatusUpdate{Status: status},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
