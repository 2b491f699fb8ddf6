package clock

import (
	"sync"
	"time"
)

// CivilOffset is the fixed offset readings are stamped in (UTC-3)
const CivilOffset = -3 * time.Hour

// Civil is the fixed civil time zone
var Civil = time.FixedZone("UTC-3", int(CivilOffset/time.Second))

// Clock reports the current time
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in a fixed location
type System struct {
	Location *time.Location
}

// NewSystem returns a wall clock in the civil zone
func NewSystem() System {
	return System{Location: Civil}
}

func (c System) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = Civil
	}
	return time.Now().In(loc)
}

// Fixed always returns the same instant, for tests and replays
type Fixed struct {
	T time.Time
}

func (c Fixed) Now() time.Time {
	return c.T
}

// Stepping starts at Start and advances by Step on every call. Used to
// replay simulated readings over a past window.
type Stepping struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepping returns a clock whose first reading is start
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{next: start, step: step}
}

func (c *Stepping) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}
