package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	req := require.New(t)
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(100, 0)
	rl.now = func() time.Time { return now }

	req.True(rl.Allow("s1"))
	req.True(rl.Allow("s1"))
	req.False(rl.Allow("s1"))
	// Other connections have their own window
	req.True(rl.Allow("s2"))

	now = now.Add(1500 * time.Millisecond)
	req.True(rl.Allow("s1"))

	rl.Forget("s1")
	_, ok := rl.history["s1"]
	req.False(ok)
}
