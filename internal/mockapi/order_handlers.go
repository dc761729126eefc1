package mockapi

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
)

var (
	orderStatuses = []string{
		types.OrderPending,
		types.OrderConfirmed,
		types.OrderOutForDelivery,
		types.OrderDelivered,
		types.OrderCancelled,
	}
	deliveryStatuses = []string{
		types.OrderOutForDelivery,
		types.OrderDelivered,
	}
)

// visibleLocked reports whether u may see o.
func (s *Server) visibleLocked(u types.User, o *types.Order) bool {
	switch u.RoleID {
	case session.RoleAdmin.ID():
		return true
	case session.RoleCustomer.ID():
		return o.CustomerID == u.ID
	case session.RoleDeliveryAgent.ID():
		return o.DeliveryAgentID == u.ID
	case session.RoleFarmer.ID():
		for _, it := range o.Items {
			if p, ok := s.products[it.ProductID]; ok && p.FarmerID == u.ID {
				return true
			}
		}
	}
	return false
}

// GET /orders
func (s *Server) listOrders(c *gin.Context) {
	page, size := pageParams(c)
	status := c.Query("status")
	u := currentUser(c)

	s.mu.Lock()
	all := s.sortedOrders(func(o *types.Order) bool {
		return s.visibleLocked(u, o) && (status == "" || o.Status == status)
	})
	s.mu.Unlock()

	c.JSON(http.StatusOK, paginate(all, page, size))
}

// GET /orders/:id
func (s *Server) getOrder(c *gin.Context) {
	u := currentUser(c)

	s.mu.Lock()
	o, ok := s.orders[c.Param("id")]
	var out types.Order
	if ok && s.visibleLocked(u, o) {
		out = *o
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Detail: detailMessage("Order not found")})
		return
	}
	c.JSON(http.StatusOK, out)
}

// POST /orders
func (s *Server) createOrder(c *gin.Context) {
	var req types.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Items) == 0 {
		var fe fieldErrors
		fe.add("items", "Order must contain at least one item")
		fe.respond(c)
		return
	}

	u := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]types.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := s.products[it.ProductID]
		if !ok {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Detail: detailMessage(fmt.Sprintf("Product %s not found", it.ProductID))})
			return
		}
		if it.Quantity <= 0 || it.Quantity > p.Stock {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:  fmt.Sprintf("Insufficient stock for %s", p.Name),
				Errors: map[string]string{"quantity": fmt.Sprintf("Only %d available", p.Stock)},
			})
			return
		}
		items = append(items, types.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
	}
	for _, it := range items {
		s.products[it.ProductID].Stock -= it.Quantity
	}

	o := &types.Order{
		ID:              uuid.NewString(),
		CustomerID:      u.ID,
		DeliveryAgentID: s.firstDeliveryAgentLocked(),
		Status:          types.OrderPending,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Subtotal:        req.Subtotal,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Total:           req.Total,
		CreatedAt:       s.tokens.now(),
	}
	if o.ShippingAddress == "" {
		o.ShippingAddress = u.Address
	}
	if o.Total.IsZero() {
		o.Subtotal = decimal.Zero
		for _, it := range items {
			o.Subtotal = o.Subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		o.Total = o.Subtotal
	}
	s.orders[o.ID] = o
	c.JSON(http.StatusCreated, *o)
}

// firstDeliveryAgentLocked picks the delivery agent with the lowest id, or
// "" when there is none.
func (s *Server) firstDeliveryAgentLocked() string {
	var ids []string
	for id, u := range s.users {
		if u.RoleID == session.RoleDeliveryAgent.ID() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	return slices.Min(ids)
}

// PUT /orders/:id/status
func (s *Server) putOrderStatus(c *gin.Context) {
	s.updateStatus(c, orderStatuses)
}

// GET /delivery/orders
func (s *Server) listDeliveries(c *gin.Context) {
	s.listOrders(c)
}

// PUT /delivery/orders/:id/status
func (s *Server) putDeliveryStatus(c *gin.Context) {
	s.updateStatus(c, deliveryStatuses)
}

func (s *Server) updateStatus(c *gin.Context, allowed []string) {
	var req types.StatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	if !slices.Contains(allowed, req.Status) {
		var fe fieldErrors
		fe.add("status", fmt.Sprintf("Invalid status %q", req.Status))
		fe.respond(c)
		return
	}

	u := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[c.Param("id")]
	if !ok || !s.visibleLocked(u, o) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Detail: detailMessage("Order not found")})
		return
	}
	if o.Status == types.OrderDelivered || o.Status == types.OrderCancelled {
		c.JSON(http.StatusConflict, types.ErrorResponse{Error: fmt.Sprintf("Order is already %s", o.Status)})
		return
	}
	o.Status = req.Status
	c.JSON(http.StatusOK, *o)
}
