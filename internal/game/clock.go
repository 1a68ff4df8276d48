package game

import "time"

// DefaultTickRate is the seconds-per-tick assumed until the server says otherwise
const DefaultTickRate = 10

// Clock mirrors the server's authoritative tick counter
type Clock struct {
	Tick     int64
	Rate     float64
	LastTick time.Time
}

// Seed applies the handshake values. A missing rate falls back to DefaultTickRate.
func (c *Clock) Seed(rate *float64, tick *int64) {
	c.Rate = DefaultTickRate
	if rate != nil && *rate > 0 {
		c.Rate = *rate
	}
	if tick != nil {
		c.Tick = *tick
	}
}

// Observe records a tick report received at. It returns true when tick is
// newer than anything seen before. The counter never moves backwards.
func (c *Clock) Observe(tick int64, at time.Time) bool {
	c.LastTick = at
	if tick <= c.Tick {
		return false
	}
	c.Tick = tick
	return true
}

// Next advances by one for tick notices that carry no number
func (c *Clock) Next(at time.Time) int64 {
	c.Tick++
	c.LastTick = at
	return c.Tick
}

// Period returns the tick length as a duration
func (c *Clock) Period() time.Duration {
	rate := c.Rate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return time.Duration(rate * float64(time.Second))
}
