package api

import (
	"context"
	"net/http"

	"github.com/nuwan94/leaf/pkg/types"
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathRefresh  = "/auth/refresh"
	pathLogout   = "/auth/logout"
	pathMe       = "/auth/me"
)

// Login exchanges credentials for a token pair and the user record. Bad
// credentials fail with ErrUnauthenticated.
func (c *Client) Login(ctx context.Context, in types.LoginRequest) (*types.LoginResponse, error) {
	var out types.LoginResponse
	err := c.do(ctx, &request{
		method:    http.MethodPost,
		path:      pathLogin,
		body:      in,
		out:       &out,
		anonymous: true,
		noRefresh: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. A duplicate email fails with ErrConflict and
// a field error on "email".
func (c *Client) Register(ctx context.Context, in types.RegisterRequest) (*types.User, error) {
	var out types.User
	err := c.do(ctx, &request{
		method:    http.MethodPost,
		path:      pathRegister,
		body:      in,
		out:       &out,
		anonymous: true,
		noRefresh: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshTokens calls the refresh endpoint directly. Most callers want
// Refresh, which coordinates concurrent refreshes and persists the result.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	var out types.TokenPair
	err := c.do(ctx, &request{
		method:    http.MethodPost,
		path:      pathRefresh,
		body:      types.RefreshRequest{RefreshToken: refreshToken},
		out:       &out,
		anonymous: true,
		noRefresh: true,
	})
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &Error{
			Method:  http.MethodPost,
			Path:    pathRefresh,
			Status:  http.StatusOK,
			Message: "refresh response without access token",
			kind:    ErrUnauthenticated,
		}
	}
	return &out, nil
}

// Logout revokes the current tokens server side. A 401 here is final; there
// is nothing to refresh for a session that is ending.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, &request{
		method:    http.MethodPost,
		path:      pathLogout,
		noRefresh: true,
	})
}

// Me returns the authenticated user's record.
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	var out types.User
	if err := c.do(ctx, &request{method: http.MethodGet, path: pathMe, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile changes the authenticated user's profile fields.
func (c *Client) UpdateProfile(ctx context.Context, in types.ProfileUpdate) (*types.User, error) {
	var out types.User
	err := c.do(ctx, &request{method: http.MethodPut, path: "/users/me", body: in, out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword replaces the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, in types.PasswordChange) error {
	return c.do(ctx, &request{method: http.MethodPut, path: "/users/me/password", body: in})
}
