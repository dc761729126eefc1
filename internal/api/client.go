package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/logger"
)

const (
	// defaultTimeout bounds a single request when Options.Timeout is unset.
	defaultTimeout = 15 * time.Second
	// refreshTimeout bounds the refresh call. It is detached from the
	// triggering request's context so one cancelled caller cannot fail the
	// refresh every other waiter depends on.
	refreshTimeout = 20 * time.Second
)

// Hooks are notified about session changes the client makes on its own.
// They run on the goroutine that performed the refresh.
type Hooks struct {
	// OnRefreshed is called after the token pair was rotated and persisted.
	OnRefreshed func(sess session.Session)
	// OnSessionExpired is called after a failed refresh cleared the session.
	// It replaces a redirect to the login entry point. Any refresh failure
	// ends the session, including transport and server errors.
	OnSessionExpired func(err error)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. https://leaf.example/api.
	BaseURL string
	// Timeout bounds one HTTP exchange.
	Timeout time.Duration
	// Transport overrides the base round tripper (tests). It is wrapped with
	// OpenTelemetry instrumentation either way.
	Transport http.RoundTripper
}

// Client is the authenticated Leaf API client.
//
// Every request carries the current access token. A 401 on a non-auth
// endpoint triggers one token refresh shared by all concurrent callers and a
// single retry of the request.
type Client struct {
	http     *resty.Client
	sessions *session.Store
	gate     refreshGate

	hooksMu sync.RWMutex
	hooks   Hooks

	refreshCalls atomic.Int64
}

// New creates a Client reading and rotating tokens through sessions.
func New(opts Options, sessions *session.Store) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(opts.Transport),
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})

	return &Client{
		http:     rc,
		sessions: sessions,
	}
}

// SetHooks replaces the session hooks.
func (c *Client) SetHooks(h Hooks) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = h
}

func (c *Client) currentHooks() Hooks {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks
}

// RefreshCalls returns how many refresh endpoint calls this client made.
func (c *Client) RefreshCalls() int64 {
	return c.refreshCalls.Load()
}

// request is one logical API call. retried is set once the call has been
// replayed after a refresh and is never reset.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any

	// noRefresh marks auth endpoints whose 401 must propagate unchanged.
	noRefresh bool
	// anonymous requests never carry a bearer token.
	anonymous bool

	retried bool
}

// do runs req through attach, dispatch and the 401 refresh-and-retry path.
func (c *Client) do(ctx context.Context, req *request) error {
	for {
		token := ""
		if !req.anonymous {
			var err error
			token, err = c.sessions.AccessToken(ctx)
			if err != nil {
				return err
			}
		}

		resp, err := c.send(ctx, req, token)
		if err != nil {
			return err
		}

		status := resp.StatusCode()
		if status != http.StatusUnauthorized || req.noRefresh || req.anonymous || req.retried || token == "" {
			return c.decode(req, resp)
		}
		req.retried = true

		logger.Debugf("api: %s %s got 401, refreshing token", req.method, req.path)
		if _, err := c.refreshFrom(ctx, token); err != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, req *request, token string) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)
	if token != "" {
		r.SetHeader("Authorization", "Bearer "+token)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}
	if len(req.query) > 0 {
		r.SetQueryParamsFromValues(req.query)
	}

	logger.Tracef("api: %s %s", req.method, req.path)
	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, networkError(req.method, req.path, err)
	}
	return resp, nil
}

func (c *Client) decode(req *request, resp *resty.Response) error {
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return parseError(req.method, req.path, status, resp.Body())
	}
	if req.out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), req.out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.method, req.path, err)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new token pair and
// returns the new access token. Concurrent callers share a single refresh.
//
// When the refresh is rejected the session is cleared, OnSessionExpired runs
// and the returned error matches ErrUnauthenticated.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refreshFrom(ctx, "")
}

// refreshFrom refreshes on behalf of a caller that was rejected while using
// staleToken. If the stored token already differs from staleToken another
// caller rotated it in the meantime and no refresh call is made.
func (c *Client) refreshFrom(ctx context.Context, staleToken string) (string, error) {
	return c.gate.run(ctx, func() (string, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refreshSession(rctx, staleToken)
	})
}

func (c *Client) refreshSession(ctx context.Context, staleToken string) (string, error) {
	sess, gen, ok, err := c.sessions.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if ok && staleToken != "" && sess.AccessToken != staleToken {
		return sess.AccessToken, nil
	}
	if !ok || sess.RefreshToken == "" {
		err := &Error{
			Method:  http.MethodPost,
			Path:    pathRefresh,
			Status:  http.StatusUnauthorized,
			Message: "no refresh token",
			kind:    ErrUnauthenticated,
		}
		if ok {
			c.expire(ctx, gen, err)
		}
		return "", err
	}

	c.refreshCalls.Add(1)
	pair, err := c.RefreshTokens(ctx, sess.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			err = &Error{
				Method:  http.MethodPost,
				Path:    pathRefresh,
				Status:  StatusCode(err),
				Message: "token refresh failed",
				kind:    ErrUnauthenticated,
				cause:   err,
			}
		}
		c.expire(ctx, gen, err)
		return "", err
	}

	if err := c.sessions.UpdateTokens(ctx, gen, pair.AccessToken, pair.RefreshToken); err != nil {
		if errors.Is(err, session.ErrStaleGeneration) {
			// Logged out (or someone else logged in) while the refresh was
			// in flight; the result belongs to nobody.
			logger.Debugf("api: discarding refresh result for a replaced session")
			return "", &Error{
				Method:  http.MethodPost,
				Path:    pathRefresh,
				Message: "session ended during refresh",
				kind:    ErrUnauthenticated,
				cause:   err,
			}
		}
		return "", err
	}

	logger.Debugf("api: access token refreshed for user %s", sess.UserID)
	if h := c.currentHooks().OnRefreshed; h != nil {
		next := sess
		next.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			next.RefreshToken = pair.RefreshToken
		}
		h(next)
	}
	return pair.AccessToken, nil
}

// expire clears the session observed at gen and notifies the hook. A
// session replaced in the meantime is left alone.
func (c *Client) expire(ctx context.Context, gen session.Generation, cause error) {
	cleared, err := c.sessions.ClearIf(ctx, gen)
	if err != nil {
		logger.Errorf("api: failed to clear expired session: %v", err)
	}
	if !cleared {
		return
	}
	logger.Infof("api: session expired: %v", cause)
	if h := c.currentHooks().OnSessionExpired; h != nil {
		h(cause)
	}
}

// restyLogger routes resty's internal messages to the package logger.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) { logger.Errorf("resty: "+format, v...) }
func (restyLogger) Warnf(format string, v ...any)  { logger.Warnf("resty: "+format, v...) }
func (restyLogger) Debugf(format string, v ...any) { logger.Debugf("resty: "+format, v...) }
