package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nuwan94/leaf/internal/clock/clocktest"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
)

func call(t *testing.T, srv *Server, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func login(t *testing.T, srv *Server, email string) types.LoginResponse {
	t.Helper()
	var resp types.LoginResponse
	code := call(t, srv, http.MethodPost, "/auth/login", "", types.LoginRequest{Email: email, Password: "password"}, &resp)
	require.Equal(t, http.StatusOK, code)
	return resp
}

func TestLoginAndMe(t *testing.T) {
	srv := New(Options{})
	users, err := srv.Seed()
	require.NoError(t, err)

	resp := login(t, srv, "Farmer@leaf.test")
	require.Equal(t, users[session.RoleFarmer].ID, resp.User.ID)
	require.Equal(t, 3, resp.User.RoleID)
	require.NotEmpty(t, resp.RefreshToken)

	var me types.User
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/auth/me", resp.AccessToken, nil, &me))
	require.Equal(t, "Kamal Perera", me.Name)

	var errResp types.ErrorResponse
	code := call(t, srv, http.MethodPost, "/auth/login", "", types.LoginRequest{Email: "farmer@leaf.test", Password: "nope"}, &errResp)
	require.Equal(t, http.StatusUnauthorized, code)
	require.JSONEq(t, `"Incorrect email or password"`, string(errResp.Detail))
}

func TestAccessTokenExpiresOnServerClock(t *testing.T) {
	clk := clocktest.NewFakeClock(time.Unix(1_700_000_000, 0))
	srv := New(Options{Clock: clk, AccessTTL: time.Minute})
	_, err := srv.Seed()
	require.NoError(t, err)

	resp := login(t, srv, "customer@leaf.test")
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/auth/me", resp.AccessToken, nil, nil))

	clk.Advance(2 * time.Minute)
	require.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", resp.AccessToken, nil, nil))
}

func TestRefreshRotatesTokens(t *testing.T) {
	srv := New(Options{})
	_, err := srv.Seed()
	require.NoError(t, err)
	resp := login(t, srv, "customer@leaf.test")

	var pair types.TokenPair
	code := call(t, srv, http.MethodPost, "/auth/refresh", "", types.RefreshRequest{RefreshToken: resp.RefreshToken}, &pair)
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, resp.RefreshToken, pair.RefreshToken)

	// The old refresh token was consumed.
	code = call(t, srv, http.MethodPost, "/auth/refresh", "", types.RefreshRequest{RefreshToken: resp.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.EqualValues(t, 2, srv.RefreshCalls())

	srv.FailRefresh(http.StatusServiceUnavailable)
	code = call(t, srv, http.MethodPost, "/auth/refresh", "", types.RefreshRequest{RefreshToken: pair.RefreshToken}, nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRevokeAccessTokens(t *testing.T) {
	srv := New(Options{})
	_, err := srv.Seed()
	require.NoError(t, err)
	resp := login(t, srv, "customer@leaf.test")

	srv.RevokeAccessTokens()
	require.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", resp.AccessToken, nil, nil))

	var pair types.TokenPair
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/auth/refresh", "", types.RefreshRequest{RefreshToken: resp.RefreshToken}, &pair))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/auth/me", pair.AccessToken, nil, nil))
}

func TestRegisterValidationAndConflict(t *testing.T) {
	srv := New(Options{})
	_, err := srv.Seed()
	require.NoError(t, err)

	var errResp types.ErrorResponse
	code := call(t, srv, http.MethodPost, "/auth/register", "", types.RegisterRequest{Name: "", Email: "bad", Password: "x", RoleID: 2}, &errResp)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	var fields []types.FieldError
	require.NoError(t, json.Unmarshal(errResp.Detail, &fields))
	require.Len(t, fields, 3)

	code = call(t, srv, http.MethodPost, "/auth/register", "", types.RegisterRequest{Name: "N", Email: "customer@leaf.test", Password: "secret1", RoleID: 2}, &errResp)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Email already registered", errResp.Errors["email"])

	var u types.User
	code = call(t, srv, http.MethodPost, "/auth/register", "", types.RegisterRequest{Name: "N", Email: "new@leaf.test", Password: "secret1", RoleID: 3}, &u)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "farmer", u.Role)
}

func TestProductsPaginationAndOwnership(t *testing.T) {
	srv := New(Options{})
	users, err := srv.Seed()
	require.NoError(t, err)

	var page types.Page[types.Product]
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/products?page=1&page_size=2", "", nil, &page))
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.Pages)
	require.Len(t, page.Items, 2)
	require.Equal(t, "Carrots", page.Items[0].Name)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/products?search=mango", "", nil, &page))
	require.Len(t, page.Items, 1)
	require.True(t, page.Items[0].Price.Equal(decimal.RequireFromString("1.25")))

	customer := login(t, srv, "customer@leaf.test")
	in := types.ProductInput{Name: "Beans", Price: decimal.NewFromInt(2), Stock: 5}
	require.Equal(t, http.StatusForbidden, call(t, srv, http.MethodPost, "/products", customer.AccessToken, in, nil))

	farmer := login(t, srv, "farmer@leaf.test")
	var p types.Product
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/products", farmer.AccessToken, in, &p))
	require.Equal(t, users[session.RoleFarmer].ID, p.FarmerID)

	require.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/products/"+p.ID, farmer.AccessToken, nil, nil))
	require.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/products/"+p.ID, "", nil, nil))
}

func TestOrderLifecycle(t *testing.T) {
	srv := New(Options{})
	_, err := srv.Seed()
	require.NoError(t, err)

	var page types.Page[types.Product]
	call(t, srv, http.MethodGet, "/products?search=carrots", "", nil, &page)
	carrots := page.Items[0]

	customer := login(t, srv, "customer@leaf.test")
	var o types.Order
	code := call(t, srv, http.MethodPost, "/orders", customer.AccessToken, types.CreateOrderRequest{
		Items: []types.OrderItem{{ProductID: carrots.ID, Quantity: 3}},
	}, &o)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, types.OrderPending, o.Status)
	require.True(t, o.Total.Equal(decimal.RequireFromString("7.20")))
	require.NotEmpty(t, o.DeliveryAgentID)

	farmer := login(t, srv, "farmer@leaf.test")
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/orders/"+o.ID+"/status", farmer.AccessToken, types.StatusUpdate{Status: types.OrderConfirmed}, nil))

	driver := login(t, srv, "driver@leaf.test")
	var deliveries types.Page[types.Order]
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/delivery/orders", driver.AccessToken, nil, &deliveries))
	require.Len(t, deliveries.Items, 1)

	require.Equal(t, http.StatusUnprocessableEntity, call(t, srv, http.MethodPut, "/delivery/orders/"+o.ID+"/status", driver.AccessToken, types.StatusUpdate{Status: types.OrderCancelled}, nil))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/delivery/orders/"+o.ID+"/status", driver.AccessToken, types.StatusUpdate{Status: types.OrderDelivered}, nil))
	require.Equal(t, http.StatusConflict, call(t, srv, http.MethodPut, "/orders/"+o.ID+"/status", farmer.AccessToken, types.StatusUpdate{Status: types.OrderCancelled}, nil))
}
