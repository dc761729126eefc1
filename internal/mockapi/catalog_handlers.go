package mockapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
)

const (
	defaultPageSize = 12
	maxPageSize     = 100
)

func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.Query("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func paginate[T any](all []T, page, size int) types.Page[T] {
	out := types.Page[T]{
		Items:    []T{},
		Total:    len(all),
		Page:     page,
		PageSize: size,
		Pages:    (len(all) + size - 1) / size,
	}
	start := (page - 1) * size
	if start >= len(all) {
		return out
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	out.Items = all[start:end]
	return out
}

// GET /products
func (s *Server) listProducts(c *gin.Context) {
	page, size := pageParams(c)
	category := c.Query("category_id")
	farmer := c.Query("farmer_id")
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	s.mu.Lock()
	all := make([]types.Product, 0, len(s.products))
	for _, p := range s.products {
		if category != "" && p.CategoryID != category {
			continue
		}
		if farmer != "" && p.FarmerID != farmer {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Description), search) {
			continue
		}
		all = append(all, *p)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name == all[j].Name {
			return all[i].ID < all[j].ID
		}
		return all[i].Name < all[j].Name
	})
	c.JSON(http.StatusOK, paginate(all, page, size))
}

// GET /products/:id
func (s *Server) getProduct(c *gin.Context) {
	s.mu.Lock()
	p, ok := s.products[c.Param("id")]
	var out types.Product
	if ok {
		out = *p
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Detail: detailMessage("Product not found")})
		return
	}
	c.JSON(http.StatusOK, out)
}

func validateProduct(in types.ProductInput) fieldErrors {
	var fe fieldErrors
	if strings.TrimSpace(in.Name) == "" {
		fe.add("name", "Name is required")
	}
	if !in.Price.IsPositive() {
		fe.add("price", "Price must be greater than 0")
	}
	if in.Stock < 0 {
		fe.add("stock", "Stock must not be negative")
	}
	return fe
}

// POST /products
func (s *Server) createProduct(c *gin.Context) {
	var in types.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	if validateProduct(in).respond(c) {
		return
	}

	s.mu.Lock()
	p := productFromInput(uuid.NewString(), currentUser(c).ID, in, s.tokens.now())
	s.products[p.ID] = &p
	s.mu.Unlock()

	c.JSON(http.StatusCreated, p)
}

// ownedProductLocked returns the product if the current user may edit it,
// writing the error response otherwise.
func (s *Server) ownedProductLocked(c *gin.Context) (*types.Product, bool) {
	p, ok := s.products[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Detail: detailMessage("Product not found")})
		return nil, false
	}
	u := currentUser(c)
	if u.RoleID != session.RoleAdmin.ID() && p.FarmerID != u.ID {
		c.JSON(http.StatusForbidden, types.ErrorResponse{Error: "not your product"})
		return nil, false
	}
	return p, true
}

// PUT /products/:id
func (s *Server) updateProduct(c *gin.Context) {
	var in types.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	if validateProduct(in).respond(c) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProductLocked(c)
	if !ok {
		return
	}
	*p = productFromInput(p.ID, p.FarmerID, in, p.CreatedAt)
	c.JSON(http.StatusOK, *p)
}

// DELETE /products/:id
func (s *Server) deleteProduct(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProductLocked(c)
	if !ok {
		return
	}
	delete(s.products, p.ID)
	c.Status(http.StatusNoContent)
}

// GET /categories
func (s *Server) listCategories(c *gin.Context) {
	s.mu.Lock()
	out := append([]types.Category{}, s.categories...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}
