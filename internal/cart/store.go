// Package cart keeps the shopping cart of the signed-in user in local
// storage. The backend is only involved at checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nuwan94/leaf/internal/api"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/internal/storage"
	"github.com/nuwan94/leaf/pkg/logger"
	"github.com/nuwan94/leaf/pkg/types"
)

// GuestKey holds the cart while nobody is signed in.
const GuestKey = "cart_guest"

var (
	// ErrInvalidQuantity is returned by AddItem for a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrEmptyCart is returned by Checkout when there is nothing to order.
	ErrEmptyCart = errors.New("cart is empty")
)

// Key returns the storage key of userID's cart.
func Key(userID string) string {
	if userID == "" {
		return GuestKey
	}
	return "cart_" + userID
}

// Item is one cart line.
type Item struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Name      string          `json:"name,omitempty"`
	Image     string          `json:"image,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	FarmerID  string          `json:"farmer_id,omitempty"`
}

// ItemMeta describes the product being added.
type ItemMeta struct {
	UnitPrice decimal.Decimal
	Name      string
	Image     string
	Unit      string
	FarmerID  string
}

// MetaFromProduct builds ItemMeta from a catalog product.
func MetaFromProduct(p types.Product) ItemMeta {
	return ItemMeta{
		UnitPrice: p.Price,
		Name:      p.Name,
		Image:     p.ImageURL,
		Unit:      p.Unit,
		FarmerID:  p.FarmerID,
	}
}

// Cart is the persisted cart value.
type Cart struct {
	Items []Item `json:"items"`
	Totals
}

// Empty returns the empty-cart value.
func Empty() Cart {
	return Cart{Items: []Item{}, Totals: DeriveTotals(nil)}
}

func (c Cart) clone() Cart {
	out := c
	out.Items = append([]Item{}, c.Items...)
	return out
}

// Count returns the number of units in the cart.
func (c Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// OrderPlacer submits orders at checkout.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, in types.CreateOrderRequest) (*types.Order, error)
}

// Store owns the persisted cart records. No other component in the process
// writes them.
type Store struct {
	kv       storage.Store
	sessions *session.Store
	orders   OrderPlacer

	mu     sync.Mutex
	loaded bool
	owner  string
	cart   Cart
}

// NewStore returns a Store. orders may be nil when checkout is not needed.
func NewStore(kv storage.Store, sessions *session.Store, orders OrderPlacer) *Store {
	return &Store{kv: kv, sessions: sessions, orders: orders}
}

// Cart returns the cart of the current session (the guest cart when signed
// out).
func (s *Store) Cart(ctx context.Context) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.syncOwnerLocked(ctx); err != nil {
		return Cart{}, err
	}
	return s.cart.clone(), nil
}

// SwitchUser drops the in-memory cart and loads userID's cart ("" for the
// guest cart). Carts are never merged.
func (s *Store) SwitchUser(ctx context.Context, userID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx, userID); err != nil {
		return Cart{}, err
	}
	return s.cart.clone(), nil
}

// AddItem adds qty units of productID. An existing line for the product is
// incremented; otherwise a new line with a fresh id is appended.
func (s *Store) AddItem(ctx context.Context, productID string, qty int, meta ItemMeta) (Cart, error) {
	if qty <= 0 {
		return Cart{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.syncOwnerLocked(ctx)
	if err != nil {
		return Cart{}, err
	}
	if owner == "" {
		return Cart{}, fmt.Errorf("add to cart: %w", api.ErrUnauthenticated)
	}

	next := s.cart.clone()
	merged := false
	for i := range next.Items {
		if next.Items[i].ProductID == productID {
			next.Items[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		next.Items = append(next.Items, Item{
			ID:        uuid.NewString(),
			ProductID: productID,
			Quantity:  qty,
			UnitPrice: meta.UnitPrice,
			Name:      meta.Name,
			Image:     meta.Image,
			Unit:      meta.Unit,
			FarmerID:  meta.FarmerID,
		})
	}
	return s.commitLocked(ctx, next)
}

// SetQuantity overwrites the quantity of itemID. A quantity of zero or less
// removes the line. An unknown id leaves the cart unchanged.
func (s *Store) SetQuantity(ctx context.Context, itemID string, qty int) (Cart, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, itemID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.syncOwnerLocked(ctx); err != nil {
		return Cart{}, err
	}
	next := s.cart.clone()
	found := false
	for i := range next.Items {
		if next.Items[i].ID == itemID {
			next.Items[i].Quantity = qty
			found = true
			break
		}
	}
	if !found {
		return s.cart.clone(), nil
	}
	return s.commitLocked(ctx, next)
}

// RemoveItem removes itemID. Removing an unknown id is a no-op.
func (s *Store) RemoveItem(ctx context.Context, itemID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.syncOwnerLocked(ctx); err != nil {
		return Cart{}, err
	}
	next := s.cart.clone()
	next.Items = next.Items[:0]
	for _, it := range s.cart.Items {
		if it.ID != itemID {
			next.Items = append(next.Items, it)
		}
	}
	if len(next.Items) == len(s.cart.Items) {
		return s.cart.clone(), nil
	}
	return s.commitLocked(ctx, next)
}

// Clear resets the cart to the empty value and persists it.
func (s *Store) Clear(ctx context.Context) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.syncOwnerLocked(ctx); err != nil {
		return Cart{}, err
	}
	return s.commitLocked(ctx, Empty())
}

// Checkout places an order for the cart contents and, once the backend
// accepted it, removes the ordered lines from the cart.
func (s *Store) Checkout(ctx context.Context, shippingAddress string) (*types.Order, error) {
	if s.orders == nil {
		return nil, errors.New("checkout: no order service configured")
	}

	s.mu.Lock()
	owner, err := s.syncOwnerLocked(ctx)
	snapshot := s.cart.clone()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, fmt.Errorf("checkout: %w", api.ErrUnauthenticated)
	}
	if len(snapshot.Items) == 0 {
		return nil, ErrEmptyCart
	}

	req := types.CreateOrderRequest{
		ShippingAddress: shippingAddress,
		Subtotal:        snapshot.Subtotal,
		Tax:             snapshot.Tax,
		Shipping:        snapshot.Shipping,
		Total:           snapshot.Total,
	}
	for _, it := range snapshot.Items {
		req.Items = append(req.Items, types.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	order, err := s.orders.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settleLocked(ctx, owner, snapshot.Items); err != nil {
		logger.Warnf("cart: removing ordered lines: %v", err)
	}
	return order, nil
}

// settleLocked removes the ordered quantities from owner's cart. Lines added
// while the order was in flight stay. The user may have changed meanwhile, so
// the owner's record is updated even when it is not the active cart.
func (s *Store) settleLocked(ctx context.Context, owner string, ordered []Item) error {
	c, err := s.readLocked(ctx, owner)
	if err != nil {
		return err
	}
	next := withoutOrdered(c, ordered)
	if s.owner == owner {
		_, err := s.commitLocked(ctx, next)
		return err
	}
	next.Totals = DeriveTotals(next.Items)
	return storage.SetJSON(ctx, s.kv, Key(owner), next)
}

func withoutOrdered(c Cart, ordered []Item) Cart {
	done := make(map[string]int, len(ordered))
	for _, it := range ordered {
		done[it.ID] += it.Quantity
	}
	next := c.clone()
	next.Items = next.Items[:0]
	for _, it := range c.Items {
		it.Quantity -= done[it.ID]
		if it.Quantity > 0 {
			next.Items = append(next.Items, it)
		}
	}
	return next
}

// syncOwnerLocked reloads the cart of the current session and returns its
// owner ("" for guest). The record is re-read every time since another
// process may share the backend.
func (s *Store) syncOwnerLocked(ctx context.Context) (string, error) {
	sess, ok, err := s.sessions.Current(ctx)
	if err != nil {
		return "", err
	}
	owner := ""
	if ok {
		owner = sess.UserID
	}
	if err := s.loadLocked(ctx, owner); err != nil {
		return "", err
	}
	return owner, nil
}

func (s *Store) readLocked(ctx context.Context, owner string) (Cart, error) {
	c := Empty()
	found, err := storage.GetJSON(ctx, s.kv, Key(owner), &c)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	if !found || c.Items == nil {
		c.Items = []Item{}
	}
	// Totals are derived; never trust the stored copy.
	c.Totals = DeriveTotals(c.Items)
	return c, nil
}

func (s *Store) loadLocked(ctx context.Context, owner string) error {
	c, err := s.readLocked(ctx, owner)
	if err != nil {
		return err
	}
	if s.loaded && s.owner != owner {
		logger.Debugf("cart: switched to %s", Key(owner))
	}
	s.loaded = true
	s.owner = owner
	s.cart = c
	return nil
}

func (s *Store) commitLocked(ctx context.Context, next Cart) (Cart, error) {
	next.Totals = DeriveTotals(next.Items)
	if err := storage.SetJSON(ctx, s.kv, Key(s.owner), next); err != nil {
		return Cart{}, fmt.Errorf("save cart: %w", err)
	}
	s.cart = next
	return next.clone(), nil
}
