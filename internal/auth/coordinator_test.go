package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuwan94/leaf/internal/api"
	"github.com/nuwan94/leaf/internal/clock/clocktest"
	"github.com/nuwan94/leaf/internal/mockapi"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/internal/storage"
	"github.com/nuwan94/leaf/pkg/types"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type event struct {
	started bool
	userID  string
	reason  LogoutReason
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) SessionStarted(_ context.Context, sess session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{started: true, userID: sess.UserID})
}

func (r *recorder) SessionEnded(_ context.Context, reason LogoutReason, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{reason: reason})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

type harness struct {
	clock    *clocktest.FakeClock
	backend  *mockapi.Server
	http     *httptest.Server
	kv       *storage.MemoryStore
	sessions *session.Store
	client   *api.Client
	coord    *Coordinator
	events   *recorder
}

func newHarness(t *testing.T, accessTTL time.Duration) *harness {
	t.Helper()
	return newWrappedHarness(t, accessTTL, nil)
}

// newWrappedHarness serves the mock backend through wrap when it is set.
func newWrappedHarness(t *testing.T, accessTTL time.Duration, wrap func(http.Handler) http.Handler) *harness {
	t.Helper()
	clk := clocktest.NewFakeClock(epoch)
	backend := mockapi.New(mockapi.Options{Clock: clk, AccessTTL: accessTTL})
	_, err := backend.Seed()
	require.NoError(t, err)

	var handler http.Handler = backend
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h := &harness{
		clock:   clk,
		backend: backend,
		http:    srv,
		kv:      storage.NewMemoryStore(),
		events:  &recorder{},
	}
	h.sessions = session.NewStore(h.kv)
	h.client = api.New(api.Options{BaseURL: srv.URL + "/api"}, h.sessions)
	h.coord = New(Options{Client: h.client, Sessions: h.sessions, Clock: clk})
	h.coord.Subscribe(h.events)
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) accessToken(t *testing.T) string {
	t.Helper()
	tok, err := h.sessions.AccessToken(context.Background())
	require.NoError(t, err)
	return tok
}

func TestLoginPersistsSession(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	sess, err := h.coord.Login(ctx, "farmer@leaf.test", "password")
	require.NoError(t, err)
	require.Equal(t, session.RoleFarmer, sess.Role)
	require.Equal(t, "Kamal Perera", sess.Name)

	stored, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess, stored)

	require.Equal(t, []event{{started: true, userID: sess.UserID}}, h.events.snapshot())
}

func TestLoginBadCredentials(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.coord.Login(context.Background(), "farmer@leaf.test", "wrong")
	require.ErrorIs(t, err, api.ErrUnauthenticated)

	_, ok, err := h.coord.Current(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, h.clock.Pending())
	require.Empty(t, h.events.snapshot())
}

func TestLoginUnknownRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.LoginResponse{
			TokenPair: types.TokenPair{AccessToken: "a", RefreshToken: "r"},
			User:      types.User{ID: "u9", RoleID: 9},
		})
	}))
	t.Cleanup(srv.Close)

	sessions := session.NewStore(storage.NewMemoryStore())
	client := api.New(api.Options{BaseURL: srv.URL}, sessions)
	coord := New(Options{Client: client, Sessions: sessions, Clock: clocktest.NewFakeClock(epoch)})

	_, err := coord.Login(context.Background(), "x@y.z", "pw")
	require.ErrorIs(t, err, session.ErrUnknownRole)

	_, ok, err := sessions.Current(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProactiveRefreshFiresAtLeadTime(t *testing.T) {
	h := newHarness(t, 400*time.Second)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)
	first := h.accessToken(t)

	due, ok := h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(100*time.Second), due)

	h.clock.Advance(99 * time.Second)
	require.EqualValues(t, 0, h.backend.RefreshCalls())

	h.clock.Advance(time.Second)
	require.EqualValues(t, 1, h.backend.RefreshCalls())
	require.NotEqual(t, first, h.accessToken(t))

	// Re-armed against the new token.
	due, ok = h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(200*time.Second), due)
	require.Equal(t, 1, h.clock.Pending())
}

func TestProactiveRefreshFiresImmediatelyInsideLeadTime(t *testing.T) {
	h := newHarness(t, 100*time.Second)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	due, ok := h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch, due)

	next, ok := h.coord.NextRefresh(ctx)
	require.True(t, ok)
	require.Equal(t, epoch, next)

	// Refreshed tokens live longer so the re-armed timer lands in the future.
	h.backend.SetAccessTTL(time.Hour)
	h.clock.Advance(0)
	require.EqualValues(t, 1, h.backend.RefreshCalls())

	due, ok = h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(55*time.Minute), due)
}

func TestReactiveRefreshReArmsTimer(t *testing.T) {
	h := newHarness(t, 30*time.Minute)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	h.backend.RevokeAccessTokens()

	_, err = h.client.Me(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.backend.RefreshCalls())

	due, ok := h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(35*time.Minute), due)
	require.Equal(t, 1, h.clock.Pending())
}

func TestLogoutClearsSessionWhenServerFails(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	sess, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	h.backend.FailLogout(true)
	require.NoError(t, h.coord.Logout(ctx))
	require.EqualValues(t, 1, h.backend.LogoutCalls())

	_, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, h.clock.Pending())

	require.Equal(t, []event{
		{started: true, userID: sess.UserID},
		{reason: ReasonUser},
	}, h.events.snapshot())

	// Nothing fires after logout.
	h.clock.Advance(24 * time.Hour)
	require.EqualValues(t, 0, h.backend.RefreshCalls())
}

func TestLogoutCancelsTimerArmedDuringServerCall(t *testing.T) {
	var (
		h          *harness
		refreshErr error
	)
	h = newWrappedHarness(t, 0, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/auth/logout" {
				// A refresh settles while the logout request is in flight.
				_, refreshErr = h.client.Refresh(context.Background())
			}
			next.ServeHTTP(w, r)
		})
	})
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	require.NoError(t, h.coord.Logout(ctx))
	require.NoError(t, refreshErr)
	require.EqualValues(t, 1, h.backend.RefreshCalls())
	require.Zero(t, h.clock.Pending())
	_, ok := h.coord.NextRefresh(ctx)
	require.False(t, ok)
}

func TestShortLivedTokensRefreshAtMinimumInterval(t *testing.T) {
	h := newHarness(t, 100*time.Second)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	// The first refresh is due at once; the tokens it returns are no better.
	h.clock.Advance(0)
	require.EqualValues(t, 1, h.backend.RefreshCalls())
	due, ok := h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(minRearmDelay), due)

	next, ok := h.coord.NextRefresh(ctx)
	require.True(t, ok)
	require.Equal(t, due, next)

	h.clock.Advance(minRearmDelay - time.Second)
	require.EqualValues(t, 1, h.backend.RefreshCalls())
	h.clock.Advance(time.Second)
	require.EqualValues(t, 2, h.backend.RefreshCalls())
	require.Equal(t, 1, h.clock.Pending())
}

func TestProcessesSharingStoreRefreshOnce(t *testing.T) {
	h := newHarness(t, 400*time.Second)
	ctx := context.Background()

	otherSessions := session.NewStore(h.kv)
	otherClient := api.New(api.Options{BaseURL: h.http.URL + "/api"}, otherSessions)
	other := New(Options{Client: otherClient, Sessions: otherSessions, Clock: h.clock})
	t.Cleanup(other.Close)

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)
	_, ok, err := other.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, h.clock.Pending())

	// Both timers are due; the second sees the rotated pair and re-arms.
	h.clock.Advance(100 * time.Second)
	require.EqualValues(t, 1, h.backend.RefreshCalls())
	require.Equal(t, 2, h.clock.Pending())

	mine, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	theirs, ok, err := other.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mine.AccessToken, theirs.AccessToken)

	next, ok := other.NextRefresh(ctx)
	require.True(t, ok)
	require.Equal(t, epoch.Add(200*time.Second), next)

	require.NoError(t, h.coord.Logout(ctx))
	_, ok, err = other.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogoutClearsSessionWhenServerUnreachable(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	h.http.Close()
	require.NoError(t, h.coord.Logout(ctx))

	_, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRefreshFailureForcesLogout(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	h.backend.FailRefresh(http.StatusServiceUnavailable)
	_, err = h.coord.RefreshToken(ctx)
	require.ErrorIs(t, err, api.ErrUnauthenticated)

	_, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, h.clock.Pending())

	events := h.events.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, ReasonExpired, events[1].reason)
}

func TestTimerRefreshFailureForcesLogout(t *testing.T) {
	h := newHarness(t, 400*time.Second)
	ctx := context.Background()

	_, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)

	h.backend.FailRefresh(http.StatusUnauthorized)
	h.clock.Advance(100 * time.Second)

	_, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	events := h.events.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, ReasonExpired, events[1].reason)
}

func TestRestoreRefreshesExpiredSession(t *testing.T) {
	h := newHarness(t, 30*time.Minute)
	ctx := context.Background()

	sess, err := h.coord.Login(ctx, "customer@leaf.test", "password")
	require.NoError(t, err)
	h.coord.Close()

	h.clock.Advance(2 * time.Hour)
	require.EqualValues(t, 0, h.backend.RefreshCalls())

	// A fresh process over the same storage.
	sessions := session.NewStore(h.kv)
	client := api.New(api.Options{BaseURL: h.http.URL + "/api"}, sessions)
	coord := New(Options{Client: client, Sessions: sessions, Clock: h.clock})
	t.Cleanup(coord.Close)

	restored, ok, err := coord.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.UserID, restored.UserID)
	require.NotEqual(t, sess.AccessToken, restored.AccessToken)
	require.EqualValues(t, 1, h.backend.RefreshCalls())

	due, ok := h.clock.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(2*time.Hour+25*time.Minute), due)
}

func TestRestoreWithoutSession(t *testing.T) {
	h := newHarness(t, 0)

	_, ok, err := h.coord.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, h.clock.Pending())
}

func TestRegisterDefaultsToCustomer(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	u, err := h.coord.Register(ctx, RegisterInput{Name: "Sunil", Email: "sunil@leaf.test", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, session.RoleCustomer.ID(), u.RoleID)

	_, ok, err := h.coord.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.coord.Register(ctx, RegisterInput{Name: "Sunil", Email: "sunil@leaf.test", Password: "secret1"})
	require.ErrorIs(t, err, api.ErrConflict)
	require.NotEmpty(t, api.FieldErrors(err)["email"])

	_, err = h.coord.Register(ctx, RegisterInput{Name: "X", Email: "x@leaf.test", Password: "secret1", Role: "wizard"})
	require.ErrorIs(t, err, session.ErrUnknownRole)
}
