package playback

import "time"

type wallClock struct {
	epoch time.Time
}

// NewWallClock returns a Clock measuring seconds since construction, which
// anchors the playback timeline to the session start.
func NewWallClock() Clock {
	return &wallClock{epoch: time.Now()}
}

func (c *wallClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}
