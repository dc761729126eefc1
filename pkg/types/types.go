// Package types holds the JSON wire shapes of the Leaf REST API. Both the
// client and the in-process fake backend use them.
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	// RoleID is the numeric role identifier the backend stores.
	RoleID int `json:"role_id"`
}

// TokenPair is the access/refresh token pair issued by the backend.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	TokenPair
	User User `json:"user"`
}

// User is a marketplace account as returned by the backend.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	// RoleID is the numeric role identifier. Role carries the role name when
	// the backend sends one.
	RoleID int    `json:"role_id"`
	Role   string `json:"role,omitempty"`
}

// ProfileUpdate is the body of PUT /users/me. Empty fields are left unchanged.
type ProfileUpdate struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// PasswordChange is the body of PUT /users/me/password.
type PasswordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Product is a catalog entry listed by a farmer.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit,omitempty"`
	Stock       int             `json:"stock"`
	CategoryID  string          `json:"category_id,omitempty"`
	FarmerID    string          `json:"farmer_id,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProductInput is the body of POST /products and PUT /products/{id}.
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit,omitempty"`
	Stock       int             `json:"stock"`
	CategoryID  string          `json:"category_id,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
}

// Category groups products in the catalog.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Pages    int `json:"pages"`
}

// Order statuses.
const (
	OrderPending        = "pending"
	OrderConfirmed      = "confirmed"
	OrderOutForDelivery = "out_for_delivery"
	OrderDelivered      = "delivered"
	OrderCancelled      = "cancelled"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Items           []OrderItem     `json:"items"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
}

// Order is a placed order.
type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	DeliveryAgentID string          `json:"delivery_agent_id,omitempty"`
	Status          string          `json:"status"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StatusUpdate is the body of the order and delivery status endpoints.
type StatusUpdate struct {
	Status string `json:"status"`
}

// ErrorResponse is the error body returned by the backend.
//
// Detail is either a plain string or a list of field errors
// (`[{"loc": ["body", "email"], "msg": "..."}]`); Errors is a flat
// field -> message map.
type ErrorResponse struct {
	Error  string            `json:"error,omitempty"`
	Detail json.RawMessage   `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// FieldError is one entry of a list-shaped Detail.
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type,omitempty"`
}

// MessageResponse is a bare acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}
