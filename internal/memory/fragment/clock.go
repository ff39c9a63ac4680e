package fragment

import "time"

// WallClock is the default Clock, backed by the system clock.
type WallClock struct{}

func (WallClock) NowMS() int64 { return time.Now().UnixMilli() }

// FixedClock is a test Clock that always returns the same instant, or one
// advanced manually between calls.
type FixedClock struct {
	MS int64
}

func (c *FixedClock) NowMS() int64 { return c.MS }

// Advance moves the fixed clock forward by delta milliseconds and returns
// the new value.
func (c *FixedClock) Advance(delta int64) int64 {
	c.MS += delta
	return c.MS
}
