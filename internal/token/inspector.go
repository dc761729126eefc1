// Package token inspects bearer tokens on the client side.
//
// Nothing here verifies a signature. Results only drive client control flow
// such as proactive refresh; the server remains the source of truth and will
// answer 401 when a token is no longer acceptable.
package token

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nuwan94/leaf/internal/clock"
)

// Claims is the advisory subset of a token payload the client cares about.
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Inspector decodes token payloads against a Clock.
type Inspector struct {
	clock  clock.Clock
	parser *jwt.Parser
}

// NewInspector returns an Inspector using c for the current time.
func NewInspector(c clock.Clock) *Inspector {
	if c == nil {
		c = clock.Real{}
	}
	return &Inspector{
		clock:  c,
		parser: jwt.NewParser(),
	}
}

// Claims decodes the token payload without verifying it. Only the middle
// segment is read; the header may name any algorithm, or none.
func (i *Inspector) Claims(token string) (Claims, bool) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[1] == "" {
		return Claims{}, false
	}

	raw, err := i.parser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, false
	}
	mc := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &mc); err != nil {
		return Claims{}, false
	}

	var out Claims
	out.Subject, _ = mc.GetSubject()
	switch role := mc["role"].(type) {
	case string:
		out.Role = role
	case float64:
		out.Role = strconv.FormatInt(int64(role), 10)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, true
}

// ExpiresAt returns the `exp` instant encoded in token. ok is false when the
// token is absent, undecodable, or carries no expiry.
func (i *Inspector) ExpiresAt(token string) (time.Time, bool) {
	c, ok := i.Claims(token)
	if !ok || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}

// IsExpired reports whether token is expired. Any decode failure counts as
// expired: an undecodable token is indistinguishable from an expired one.
func (i *Inspector) IsExpired(token string) bool {
	exp, ok := i.ExpiresAt(token)
	if !ok {
		return true
	}
	return !exp.After(i.clock.Now())
}

// TimeRemaining returns max(0, exp-now), or 0 when the token cannot be decoded.
func (i *Inspector) TimeRemaining(token string) time.Duration {
	exp, ok := i.ExpiresAt(token)
	if !ok {
		return 0
	}
	d := exp.Sub(i.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// RemainingSeconds is TimeRemaining in whole seconds.
func (i *Inspector) RemainingSeconds(token string) int64 {
	return int64(i.TimeRemaining(token) / time.Second)
}
