package countdown

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tick advances the mock by one cadence and waits for the display to follow
func tick(t *testing.T, mock *clock.Mock, c *Countdown, want int) {
	t.Helper()
	mock.Add(Cadence)
	require.Eventually(t, func() bool { return c.Display() == want }, time.Second, time.Millisecond)
}

func TestCountdown(t *testing.T) {
	t.Run("DecrementsLocallyBetweenPushes", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)
		defer c.Stop()

		c.Sync(3, true)
		assert.Equal(t, 3, c.Display())

		tick(t, mock, c, 2)
		tick(t, mock, c, 1)
		assert.Equal(t, 3, c.Authoritative(), "local smoothing never touches the authoritative value")
	})

	t.Run("AuthoritativePushWins", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)
		defer c.Stop()

		c.Sync(10, true)
		tick(t, mock, c, 9)
		tick(t, mock, c, 8)

		c.Sync(15, true)
		assert.Equal(t, 15, c.Display())
		assert.Equal(t, 15, c.Authoritative())
		tick(t, mock, c, 14)
	})

	t.Run("FloorsAtZero", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)
		defer c.Stop()

		c.Sync(1, true)
		tick(t, mock, c, 0)

		mock.Add(Cadence)
		mock.Add(Cadence)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 0, c.Display())
		assert.True(t, c.Running(), "reaching zero locally does not stop the auction")
	})

	t.Run("FrozenWhileStopped", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)

		c.Sync(7, false)
		mock.Add(3 * Cadence)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 7, c.Display())
		assert.False(t, c.Running())
	})

	t.Run("StopKeepsValue", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)

		c.Sync(5, true)
		tick(t, mock, c, 4)
		c.Stop()

		mock.Add(Cadence)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 4, c.Display())
	})

	t.Run("WatchSeesEveryChange", func(t *testing.T) {
		mock := clock.NewMock()
		c := New(mock)
		defer c.Stop()

		seen := make(chan int, 8)
		c.Watch(func(v int) { seen <- v })

		c.Sync(2, true)
		tick(t, mock, c, 1)

		assert.Equal(t, 2, <-seen)
		assert.Equal(t, 1, <-seen)
	})
}
