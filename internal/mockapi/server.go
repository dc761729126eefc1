// Package mockapi is an in-memory Leaf backend for tests and local
// development. It implements the REST surface the client consumes with real
// HS256 tokens, so expiry, rotation and rejection behave like production.
package mockapi

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/nuwan94/leaf/internal/clock"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
)

const (
	// DefaultAccessTTL matches the production access token lifetime.
	DefaultAccessTTL = 30 * time.Minute
	// DefaultRefreshTTL matches the production refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Options configures a Server.
type Options struct {
	// Clock stamps and checks token expiry. Defaults to the real clock.
	Clock clock.Clock
	// Secret signs tokens. A random secret is used when empty.
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AllowedOrigins enables CORS for browser front ends.
	AllowedOrigins []string
	// Debug enables gin debug mode.
	Debug bool
}

type user struct {
	types.User
	passwordHash []byte
}

// Server is the fake backend. All methods are safe for concurrent use.
type Server struct {
	router *gin.Engine
	tokens *tokenIssuer

	mu           sync.Mutex
	accessTTL    time.Duration
	refreshTTL   time.Duration
	epoch        int
	refreshFail  int
	refreshDelay time.Duration
	users        map[string]*user
	byEmail      map[string]string
	refreshValid map[string]string
	categories   []types.Category
	products     map[string]*types.Product
	orders       map[string]*types.Order

	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
	failLogout   atomic.Bool
}

// New builds a Server with empty data.
func New(opts Options) *Server {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	secret := opts.Secret
	if secret == "" {
		secret = uuid.NewString()
	}
	s := &Server{
		tokens:       &tokenIssuer{secret: []byte(secret), now: clk.Now},
		accessTTL:    opts.AccessTTL,
		refreshTTL:   opts.RefreshTTL,
		users:        make(map[string]*user),
		byEmail:      make(map[string]string),
		refreshValid: make(map[string]string),
		products:     make(map[string]*types.Product),
		orders:       make(map[string]*types.Order),
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	s.router = s.routes(opts)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), loggingMiddleware())
	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
		}))
	}

	api := router.Group("/api")

	// Public routes
	api.POST("/auth/login", s.postLogin)
	api.POST("/auth/register", s.postRegister)
	api.POST("/auth/refresh", s.postRefresh)
	api.GET("/products", s.listProducts)
	api.GET("/products/:id", s.getProduct)
	api.GET("/categories", s.listCategories)

	// Protected routes
	protected := api.Group("")
	protected.Use(s.authMiddleware())
	{
		protected.POST("/auth/logout", s.postLogout)
		protected.GET("/auth/me", s.getMe)
		protected.PUT("/users/me", s.putProfile)
		protected.PUT("/users/me/password", s.putPassword)

		protected.POST("/products", requireRole(session.RoleFarmer, session.RoleAdmin), s.createProduct)
		protected.PUT("/products/:id", requireRole(session.RoleFarmer, session.RoleAdmin), s.updateProduct)
		protected.DELETE("/products/:id", requireRole(session.RoleFarmer, session.RoleAdmin), s.deleteProduct)

		protected.GET("/orders", s.listOrders)
		protected.POST("/orders", requireRole(session.RoleCustomer), s.createOrder)
		protected.GET("/orders/:id", s.getOrder)
		protected.PUT("/orders/:id/status", requireRole(session.RoleAdmin, session.RoleFarmer), s.putOrderStatus)

		protected.GET("/delivery/orders", requireRole(session.RoleDeliveryAgent), s.listDeliveries)
		protected.PUT("/delivery/orders/:id/status", requireRole(session.RoleDeliveryAgent), s.putDeliveryStatus)
	}
	return router
}

// AddUser creates an account and returns it.
func (s *Server) AddUser(name, email, password string, role session.Role) (types.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return types.User{}, err
	}

	email = strings.ToLower(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{
		User: types.User{
			ID:     uuid.NewString(),
			Name:   name,
			Email:  email,
			RoleID: role.ID(),
			Role:   string(role),
		},
		passwordHash: hash,
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u.User, nil
}

// AddCategory creates a category and returns it.
func (s *Server) AddCategory(name string) types.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := types.Category{ID: uuid.NewString(), Name: name}
	s.categories = append(s.categories, c)
	return c
}

// AddProduct lists a product for farmerID and returns it.
func (s *Server) AddProduct(farmerID string, in types.ProductInput) types.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := productFromInput(uuid.NewString(), farmerID, in, s.tokens.now())
	s.products[p.ID] = &p
	return p
}

// Seed loads a small demo data set and returns the created users by role.
// Every seeded account uses the password "password".
func (s *Server) Seed() (map[session.Role]types.User, error) {
	out := make(map[session.Role]types.User)
	for _, r := range []struct {
		name  string
		email string
		role  session.Role
	}{
		{"Admin", "admin@leaf.test", session.RoleAdmin},
		{"Kamal Perera", "farmer@leaf.test", session.RoleFarmer},
		{"Nimali Silva", "customer@leaf.test", session.RoleCustomer},
		{"Ruwan Jayasinghe", "driver@leaf.test", session.RoleDeliveryAgent},
	} {
		u, err := s.AddUser(r.name, r.email, "password", r.role)
		if err != nil {
			return nil, err
		}
		out[r.role] = u
	}

	veg := s.AddCategory("Vegetables")
	fruit := s.AddCategory("Fruit")
	farmer := out[session.RoleFarmer].ID
	s.AddProduct(farmer, types.ProductInput{Name: "Carrots", Price: decimal.RequireFromString("2.40"), Unit: "kg", Stock: 120, CategoryID: veg.ID})
	s.AddProduct(farmer, types.ProductInput{Name: "Leeks", Price: decimal.RequireFromString("3.10"), Unit: "kg", Stock: 60, CategoryID: veg.ID})
	s.AddProduct(farmer, types.ProductInput{Name: "Mangoes", Price: decimal.RequireFromString("1.25"), Unit: "each", Stock: 300, CategoryID: fruit.ID})
	return out, nil
}

// SetAccessTTL changes the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// FailRefresh makes /auth/refresh answer with status until called with 0.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFail = status
}

// SetRefreshDelay delays every refresh response by d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// FailLogout makes /auth/logout answer 500.
func (s *Server) FailLogout(fail bool) {
	s.failLogout.Store(fail)
}

// RevokeAccessTokens invalidates every access token issued so far while
// keeping refresh tokens usable.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
}

// RefreshCalls returns how many times /auth/refresh was called.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// LogoutCalls returns how many times /auth/logout was called.
func (s *Server) LogoutCalls() int64 {
	return s.logoutCalls.Load()
}

// issuePairLocked creates a token pair for u and registers the refresh
// token. Callers hold s.mu.
func (s *Server) issuePairLocked(u *user) (types.TokenPair, error) {
	access, err := s.tokens.issue(u.ID, u.RoleID, tokenAccess, s.epoch, s.accessTTL)
	if err != nil {
		return types.TokenPair{}, err
	}
	refresh, err := s.tokens.issue(u.ID, u.RoleID, tokenRefresh, 0, s.refreshTTL)
	if err != nil {
		return types.TokenPair{}, err
	}
	s.refreshValid[refresh] = u.ID
	return types.TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// sortedOrders returns matching orders, newest first. Callers hold s.mu.
func (s *Server) sortedOrders(keep func(*types.Order) bool) []types.Order {
	out := make([]types.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func productFromInput(id, farmerID string, in types.ProductInput, now time.Time) types.Product {
	return types.Product{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Unit:        in.Unit,
		Stock:       in.Stock,
		CategoryID:  in.CategoryID,
		FarmerID:    farmerID,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
	}
}
