// Package sdk wires the Leaf client together for applications: storage, the
// token store, the API client, the auth coordinator, the cart and the
// preferences, plus a Listener for session events.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nuwan94/leaf/internal/api"
	"github.com/nuwan94/leaf/internal/auth"
	"github.com/nuwan94/leaf/internal/cart"
	"github.com/nuwan94/leaf/internal/clock"
	"github.com/nuwan94/leaf/internal/config"
	"github.com/nuwan94/leaf/internal/prefs"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/internal/storage"
	"github.com/nuwan94/leaf/pkg/logger"
)

// storageNamespace prefixes keys in shared backends.
const storageNamespace = "leaf"

// Listener receives SDK events. Callbacks run one at a time on an SDK
// goroutine, in the order the events happened.
//
// A callback may call any Client method except Close, which waits for the
// callbacks to finish. Hand Close to another goroutine instead.
type Listener interface {
	// OnSessionChanged reports the signed-in user. Both values are empty
	// after logout.
	OnSessionChanged(userID, role string)
	// OnLoggedOut reports the end of a session: "user" for an explicit
	// logout, "expired" when a token refresh failed.
	OnLoggedOut(reason string)
	OnError(message string)
}

// Option customizes New.
type Option func(*options)

type options struct {
	listener  Listener
	clock     clock.Clock
	transport http.RoundTripper
	store     storage.Store
}

// WithListener sets the initial Listener.
func WithListener(l Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithClock replaces the clock driving the proactive refresh.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTransport replaces the HTTP round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithStorage uses kv instead of the backend named by the config. The
// caller keeps ownership; Close does not close it.
func WithStorage(kv storage.Store) Option {
	return func(o *options) { o.store = kv }
}

// Client is the application entry point.
type Client struct {
	kv     storage.Store
	ownsKV bool

	sessions *session.Store
	api      *api.Client
	auth     *auth.Coordinator
	cart     *cart.Store
	prefs    *prefs.Store

	mu        sync.Mutex
	listener  Listener
	callbacks *dispatcher
	closeOnce sync.Once
	closeErr  error
}

// New builds a Client from cfg.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("sdk: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	kv, ownsKV := o.store, false
	if kv == nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()

		var err error
		kv, err = storage.Open(ctx, storage.Options{
			Backend:   cfg.Storage,
			Dir:       cfg.Home,
			RedisURL:  cfg.RedisURL,
			Namespace: storageNamespace,
		})
		if err != nil {
			return nil, fmt.Errorf("sdk: open %s storage: %w", cfg.Storage, err)
		}
		ownsKV = true
	}

	sessions := session.NewStore(kv)
	client := api.New(api.Options{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.HTTPTimeout,
		Transport: o.transport,
	}, sessions)
	coord := auth.New(auth.Options{
		Client:   client,
		Sessions: sessions,
		Clock:    o.clock,
		LeadTime: cfg.RefreshLeadTime,
	})

	c := &Client{
		kv:        kv,
		ownsKV:    ownsKV,
		sessions:  sessions,
		api:       client,
		auth:      coord,
		cart:      cart.NewStore(kv, sessions, client),
		prefs:     prefs.NewStore(kv),
		listener:  o.listener,
		callbacks: newDispatcher(),
	}
	coord.Subscribe(sessionEvents{c: c})
	return c, nil
}

// SetListener replaces the Listener. nil disables callbacks.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// API returns the authenticated REST client.
func (c *Client) API() *api.Client { return c.api }

// Auth returns the auth coordinator.
func (c *Client) Auth() *auth.Coordinator { return c.auth }

// Cart returns the cart store.
func (c *Client) Cart() *cart.Store { return c.cart }

// Prefs returns the preference store.
func (c *Client) Prefs() *prefs.Store { return c.prefs }

// Resume picks up a session persisted by an earlier process. A refresh
// failure ends the session; the Listener hears about it through
// OnLoggedOut.
func (c *Client) Resume(ctx context.Context) (session.Session, bool, error) {
	return c.auth.Restore(ctx)
}

// Close stops the refresh timer, delivers pending callbacks and closes
// storage it opened. The session stays persisted. Close must not be called
// from a Listener callback.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.auth.Close()
		c.callbacks.close()
		if c.ownsKV {
			c.closeErr = c.kv.Close()
		}
	})
	return c.closeErr
}

func (c *Client) emit(fn func(Listener)) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}
	if err := c.callbacks.do(func() { fn(l) }); err != nil {
		logger.Debugf("sdk: dropping callback: %v", err)
	}
}

// sessionEvents keeps the cart on the signed-in user's key and forwards
// session changes to the Listener.
type sessionEvents struct {
	c *Client
}

func (e sessionEvents) SessionStarted(ctx context.Context, sess session.Session) {
	if _, err := e.c.cart.SwitchUser(ctx, sess.UserID); err != nil {
		logger.Errorf("sdk: loading cart for %s: %v", sess.UserID, err)
		e.c.emit(func(l Listener) { l.OnError(fmt.Sprintf("load cart: %v", err)) })
	}
	userID, role := sess.UserID, string(sess.Role)
	e.c.emit(func(l Listener) { l.OnSessionChanged(userID, role) })
}

func (e sessionEvents) SessionEnded(ctx context.Context, reason auth.LogoutReason, cause error) {
	if _, err := e.c.cart.SwitchUser(ctx, ""); err != nil {
		logger.Errorf("sdk: loading guest cart: %v", err)
	}
	why := reason.String()
	e.c.emit(func(l Listener) {
		l.OnSessionChanged("", "")
		l.OnLoggedOut(why)
	})
	if cause != nil {
		msg := api.UserMessage(cause)
		e.c.emit(func(l Listener) { l.OnError(msg) })
	}
}
