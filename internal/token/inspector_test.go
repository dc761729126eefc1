package token

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nuwan94/leaf/internal/clock/clocktest"
)

var now = time.Unix(1_700_000_000, 0)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestIsExpired(t *testing.T) {
	insp := NewInspector(clocktest.NewFakeClock(now))

	past := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()})
	future := signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()})
	noExp := signed(t, jwt.MapClaims{"sub": "u1"})

	require.True(t, insp.IsExpired(past))
	require.False(t, insp.IsExpired(future))
	require.True(t, insp.IsExpired("not-a-jwt"))
	require.True(t, insp.IsExpired(""))
	require.True(t, insp.IsExpired(noExp))
}

func TestIsExpiredIgnoresSignature(t *testing.T) {
	insp := NewInspector(clocktest.NewFakeClock(now))

	tok := signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	// Swap in a bogus signature; the payload alone decides.
	tampered := tok[:len(tok)-4] + "AAAA"
	require.False(t, insp.IsExpired(tampered))
}

func TestExpiresAtAndTimeRemaining(t *testing.T) {
	clk := clocktest.NewFakeClock(now)
	insp := NewInspector(clk)

	tok := signed(t, jwt.MapClaims{"exp": now.Add(400 * time.Second).Unix()})
	exp, ok := insp.ExpiresAt(tok)
	require.True(t, ok)
	require.Equal(t, now.Add(400*time.Second), exp)
	require.Equal(t, int64(400), insp.RemainingSeconds(tok))

	clk.Advance(500 * time.Second)
	require.Zero(t, insp.TimeRemaining(tok))

	_, ok = insp.ExpiresAt("a.b.c")
	require.False(t, ok)
	require.Zero(t, insp.TimeRemaining("a.b.c"))
}

func TestClaimsRole(t *testing.T) {
	insp := NewInspector(clocktest.NewFakeClock(now))

	c, ok := insp.Claims(signed(t, jwt.MapClaims{"sub": "u9", "role": 3}))
	require.True(t, ok)
	require.Equal(t, "u9", c.Subject)
	require.Equal(t, "3", c.Role)

	// Unsigned token with a hand-built payload.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"role":"farmer","exp":1700000100}`))
	c, ok = insp.Claims(header + "." + payload + ".")
	require.True(t, ok)
	require.Equal(t, "farmer", c.Role)
	require.Equal(t, time.Unix(1700000100, 0), c.ExpiresAt)
}

func TestClaimsIgnoreHeaderAlgorithm(t *testing.T) {
	insp := NewInspector(clocktest.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u1","exp":` + strconv.FormatInt(exp.Unix(), 10) + `}`))

	for _, header := range []string{`{"alg":"ES256K","typ":"JWT"}`, `{"typ":"JWT"}`} {
		tok := base64.RawURLEncoding.EncodeToString([]byte(header)) + "." + payload + ".c2ln"
		require.False(t, insp.IsExpired(tok), header)
		require.Equal(t, exp.Sub(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), insp.TimeRemaining(tok), header)
	}

	// A payload that is not a JSON object is rejected.
	bad := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." +
		base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)) + ".sig"
	_, ok := insp.Claims(bad)
	require.False(t, ok)
}
