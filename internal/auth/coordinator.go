// Package auth owns the login lifecycle: it turns credentials into a
// persisted session, keeps the access token fresh ahead of expiry and tears
// everything down again on logout.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nuwan94/leaf/internal/api"
	"github.com/nuwan94/leaf/internal/clock"
	"github.com/nuwan94/leaf/internal/config"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/internal/token"
	"github.com/nuwan94/leaf/pkg/logger"
	"github.com/nuwan94/leaf/pkg/types"
)

// timerRefreshTimeout bounds a refresh started by the proactive timer, which
// has no caller context of its own.
const timerRefreshTimeout = 30 * time.Second

// minRearmDelay is the shortest delay of a timer re-armed after a refresh.
// A backend issuing access tokens that live no longer than the lead time
// would otherwise be asked for a new pair in a tight loop.
const minRearmDelay = 30 * time.Second

// LogoutReason says why a session ended.
type LogoutReason int

const (
	// ReasonUser is an explicit Logout call.
	ReasonUser LogoutReason = iota
	// ReasonExpired is a forced logout after a failed token refresh.
	ReasonExpired
)

func (r LogoutReason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonExpired:
		return "expired"
	default:
		return fmt.Sprintf("LogoutReason(%d)", int(r))
	}
}

// Observer is notified when the authenticated user changes. Callbacks run
// synchronously on the goroutine that caused the change.
type Observer interface {
	SessionStarted(ctx context.Context, sess session.Session)
	SessionEnded(ctx context.Context, reason LogoutReason, cause error)
}

// RegisterInput is the account data for Register. An empty Role registers a
// customer.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Address  string
	Role     session.Role
}

// Options configures a Coordinator.
type Options struct {
	Client   *api.Client
	Sessions *session.Store
	// Inspector decodes token expiry. Defaults to one on Clock.
	Inspector *token.Inspector
	// Clock drives the proactive refresh timer. Defaults to the real clock.
	Clock clock.Clock
	// LeadTime is how long before expiry the proactive refresh fires.
	// Defaults to config.DefaultRefreshLeadTime.
	LeadTime time.Duration
}

// Coordinator ties the API client, the session store and the proactive
// refresh timer together.
type Coordinator struct {
	client    *api.Client
	sessions  *session.Store
	inspector *token.Inspector
	clock     clock.Clock
	lead      time.Duration

	mu        sync.Mutex
	timer     clock.Timer
	due       time.Time
	timerSeq  uint64
	closed    bool
	observers []Observer
}

// New creates a Coordinator and installs its hooks on opts.Client.
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	insp := opts.Inspector
	if insp == nil {
		insp = token.NewInspector(clk)
	}
	lead := opts.LeadTime
	if lead <= 0 {
		lead = config.DefaultRefreshLeadTime
	}

	c := &Coordinator{
		client:    opts.Client,
		sessions:  opts.Sessions,
		inspector: insp,
		clock:     clk,
		lead:      lead,
	}
	c.client.SetHooks(api.Hooks{
		OnRefreshed:      c.onRefreshed,
		OnSessionExpired: c.onExpired,
	})
	return c
}

// Subscribe registers o for session changes.
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Current returns the persisted session, if any.
func (c *Coordinator) Current(ctx context.Context) (session.Session, bool, error) {
	return c.sessions.Current(ctx)
}

// Login authenticates with email and password, persists the session and arms
// the proactive refresh. Bad credentials fail with api.ErrUnauthenticated; a
// role the client does not know fails with session.ErrUnknownRole and leaves
// no session behind.
func (c *Coordinator) Login(ctx context.Context, email, password string) (session.Session, error) {
	resp, err := c.client.Login(ctx, types.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	})
	if err != nil {
		return session.Session{}, err
	}

	role, err := c.resolveRole(resp)
	if err != nil {
		return session.Session{}, fmt.Errorf("login: %w", err)
	}

	userID := resp.User.ID
	if userID == "" {
		if claims, ok := c.inspector.Claims(resp.AccessToken); ok {
			userID = claims.Subject
		}
	}

	sess := session.Session{
		UserID:       userID,
		Role:         role,
		Name:         resp.User.Name,
		Email:        resp.User.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	gen, err := c.sessions.Save(ctx, sess)
	if err != nil {
		return session.Session{}, fmt.Errorf("login: %w", err)
	}

	logger.Infof("auth: logged in as %s (%s)", sess.UserID, sess.Role)
	c.schedule(gen, sess.AccessToken, 0)
	c.notifyStarted(ctx, sess)
	return sess, nil
}

// resolveRole prefers the role name, then the numeric id, then the token's
// role claim.
func (c *Coordinator) resolveRole(resp *types.LoginResponse) (session.Role, error) {
	if resp.User.Role != "" {
		return session.ParseRole(resp.User.Role)
	}
	if resp.User.RoleID != 0 {
		return session.RoleFromID(resp.User.RoleID)
	}
	if claims, ok := c.inspector.Claims(resp.AccessToken); ok && claims.Role != "" {
		return session.ParseRole(claims.Role)
	}
	return "", session.ErrUnknownRole
}

// Register creates an account. It does not log in.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (*types.User, error) {
	role := in.Role
	if role == "" {
		role = session.RoleCustomer
	}
	id := role.ID()
	if id == 0 {
		return nil, fmt.Errorf("register: %w: %q", session.ErrUnknownRole, role)
	}
	return c.client.Register(ctx, types.RegisterRequest{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
		Phone:    in.Phone,
		Address:  in.Address,
		RoleID:   id,
	})
}

// Logout ends the session. The server call is best effort; the local
// session is cleared whatever it returns.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.cancelTimer()

	_, hadSession, err := c.sessions.Current(ctx)
	if err != nil {
		logger.Warnf("auth: reading session before logout: %v", err)
	}
	if hadSession {
		if err := c.client.Logout(ctx); err != nil {
			logger.Warnf("auth: logout request failed: %v", err)
		}
	}

	err = c.sessions.Clear(ctx)
	// A refresh that settled during the server call may have re-armed it.
	c.cancelTimer()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if hadSession {
		logger.Infof("auth: logged out")
		c.notifyEnded(ctx, ReasonUser, nil)
	}
	return nil
}

// RefreshToken rotates the token pair now and returns the new access token.
// It shares the client's single-flight refresh with 401 handling. On failure
// the session is cleared.
func (c *Coordinator) RefreshToken(ctx context.Context) (string, error) {
	_, gen, ok, err := c.sessions.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	tok, err := c.client.Refresh(ctx)
	if err == nil {
		return tok, nil
	}
	if !ok || ctx.Err() != nil {
		// Nothing to end, or the caller gave up waiting on a refresh that
		// is still running.
		return "", err
	}

	// The client already ends the session for rejected refreshes; this
	// covers everything it leaves behind.
	cleared, clearErr := c.sessions.ClearIf(ctx, gen)
	if clearErr != nil {
		logger.Errorf("auth: clearing session after failed refresh: %v", clearErr)
	}
	if cleared {
		c.onExpired(err)
	}
	return "", err
}

// Restore resumes a persisted session on startup: it refreshes an expired
// access token and arms the proactive refresh. ok is false when there is no
// session to resume.
func (c *Coordinator) Restore(ctx context.Context) (session.Session, bool, error) {
	sess, gen, ok, err := c.sessions.Snapshot(ctx)
	if err != nil || !ok {
		return session.Session{}, false, err
	}

	if c.inspector.IsExpired(sess.AccessToken) {
		logger.Debugf("auth: stored access token expired, refreshing")
		if _, err := c.RefreshToken(ctx); err != nil {
			return session.Session{}, false, err
		}
		// onRefreshed armed the timer already.
		sess, _, ok, err = c.sessions.Snapshot(ctx)
		if err != nil || !ok {
			return session.Session{}, false, err
		}
	} else {
		c.schedule(gen, sess.AccessToken, 0)
	}

	c.notifyStarted(ctx, sess)
	return sess, true, nil
}

// Close stops the proactive refresh timer. The Coordinator must not be used
// afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked()
}

// NextRefresh returns when the proactive refresh is due, if one is armed.
func (c *Coordinator) NextRefresh(ctx context.Context) (time.Time, bool) {
	c.mu.Lock()
	armed, due := c.timer != nil, c.due
	c.mu.Unlock()
	if !armed {
		return time.Time{}, false
	}
	if _, ok, err := c.sessions.Current(ctx); err != nil || !ok {
		return time.Time{}, false
	}
	return due, true
}

func (c *Coordinator) refreshDelay(accessToken string) time.Duration {
	d := c.inspector.TimeRemaining(accessToken) - c.lead
	if d < 0 {
		return 0
	}
	return d
}

// schedule arms the proactive refresh for the session at gen, replacing any
// armed timer. The delay is never shorter than floor.
func (c *Coordinator) schedule(gen session.Generation, accessToken string, floor time.Duration) {
	delay := c.refreshDelay(accessToken)
	if delay < floor {
		delay = floor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()

	c.timerSeq++
	seq := c.timerSeq
	c.due = c.clock.Now().Add(delay)
	c.timer = c.clock.AfterFunc(delay, func() { c.fire(seq, gen) })
	logger.Debugf("auth: proactive refresh in %s", delay.Round(time.Second))
}

func (c *Coordinator) cancelTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Invalidates a callback that already started before Stop.
	c.timerSeq++
}

func (c *Coordinator) fire(seq uint64, gen session.Generation) {
	c.mu.Lock()
	if c.closed || seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timerRefreshTimeout)
	defer cancel()

	sess, cur, ok, err := c.sessions.Snapshot(ctx)
	if err != nil || !ok {
		return
	}
	if cur != gen {
		// Another process sharing the store rotated or replaced the session.
		c.schedule(cur, sess.AccessToken, 0)
		return
	}
	logger.Debugf("auth: proactive token refresh")
	if _, err := c.RefreshToken(ctx); err != nil {
		logger.Warnf("auth: proactive refresh failed: %v", err)
	}
}

func (c *Coordinator) onRefreshed(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), timerRefreshTimeout)
	defer cancel()

	_, gen, ok, err := c.sessions.Snapshot(ctx)
	if err != nil || !ok {
		return
	}
	c.schedule(gen, sess.AccessToken, minRearmDelay)
}

func (c *Coordinator) onExpired(cause error) {
	c.cancelTimer()
	logger.Warnf("auth: session ended: %v", cause)
	c.notifyEnded(context.Background(), ReasonExpired, cause)
}

func (c *Coordinator) snapshotObservers() []Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Observer(nil), c.observers...)
}

func (c *Coordinator) notifyStarted(ctx context.Context, sess session.Session) {
	for _, o := range c.snapshotObservers() {
		o.SessionStarted(ctx, sess)
	}
}

func (c *Coordinator) notifyEnded(ctx context.Context, reason LogoutReason, cause error) {
	for _, o := range c.snapshotObservers() {
		o.SessionEnded(ctx, reason, cause)
	}
}
