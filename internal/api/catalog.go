package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nuwan94/leaf/pkg/types"
)

// DefaultPageSize is the catalog page size when ProductQuery.PageSize is 0.
const DefaultPageSize = 12

// ProductQuery filters and paginates the catalog. Page is 1-based.
type ProductQuery struct {
	Page       int
	PageSize   int
	CategoryID string
	Search     string
	FarmerID   string
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = DefaultPageSize
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("page_size", strconv.Itoa(size))
	if q.CategoryID != "" {
		v.Set("category_id", q.CategoryID)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.FarmerID != "" {
		v.Set("farmer_id", q.FarmerID)
	}
	return v
}

// ListProducts returns one catalog page.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery) (*types.Page[types.Product], error) {
	var out types.Page[types.Product]
	err := c.do(ctx, &request{method: http.MethodGet, path: "/products", query: q.values(), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProduct returns a single product.
func (c *Client) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	var out types.Product
	err := c.do(ctx, &request{method: http.MethodGet, path: "/products/" + url.PathEscape(id), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProduct lists a new product for the authenticated farmer.
func (c *Client) CreateProduct(ctx context.Context, in types.ProductInput) (*types.Product, error) {
	var out types.Product
	err := c.do(ctx, &request{method: http.MethodPost, path: "/products", body: in, out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProduct replaces a product's editable fields.
func (c *Client) UpdateProduct(ctx context.Context, id string, in types.ProductInput) (*types.Product, error) {
	var out types.Product
	err := c.do(ctx, &request{method: http.MethodPut, path: "/products/" + url.PathEscape(id), body: in, out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProduct removes a product.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.do(ctx, &request{method: http.MethodDelete, path: "/products/" + url.PathEscape(id)})
}

// ListCategories returns every product category.
func (c *Client) ListCategories(ctx context.Context) ([]types.Category, error) {
	var out []types.Category
	if err := c.do(ctx, &request{method: http.MethodGet, path: "/categories", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}
