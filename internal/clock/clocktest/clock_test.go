package clocktest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClockFiresInOrder(t *testing.T) {
	c := NewFakeClock(time.Unix(1000, 0))

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := c.AfterFunc(time.Second, func() { fired = append(fired, "x") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	c.Advance(999 * time.Millisecond)
	require.Empty(t, fired)
	require.Equal(t, 2, c.Pending())

	c.Advance(5 * time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
	require.Zero(t, c.Pending())
}

func TestFakeClockCallbackMayRearm(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))

	count := 0
	var arm func()
	arm = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, arm)
		}
	}
	c.AfterFunc(time.Second, arm)

	c.Advance(10 * time.Second)
	require.Equal(t, 3, count)

	_, ok := c.NextDeadline()
	require.False(t, ok)
}
