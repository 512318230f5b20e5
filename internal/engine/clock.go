package engine

import "fmt"

// Clock holds the engine's simulated time and the counters that number
// ledger entries and events.
//
// Simulated time only moves forward: AdvanceTo ignores earlier timestamps
// and Clamp lifts them to now. No wall-clock time is ever read, so a replay
// of the same scenario hands out the same numbers in the same order.
//
// Clock is not safe for concurrent use; the engine is its only writer.
type Clock struct {
	now    int64
	seq    int64
	events int64
}

// NewClock returns a clock at time 0 with no seqs or event ids issued.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current simulated time.
func (c *Clock) Now() int64 {
	return c.now
}

// AdvanceTo moves simulated time to ts if ts is later than now and reports
// whether it moved.
func (c *Clock) AdvanceTo(ts int64) bool {
	if ts <= c.now {
		return false
	}
	c.now = ts
	return true
}

// InPast reports whether ts is before the current simulated time.
func (c *Clock) InPast(ts int64) bool {
	return ts < c.now
}

// Clamp returns ts, or now if ts is in the past.
func (c *Clock) Clamp(ts int64) int64 {
	return max(ts, c.now)
}

// NextSeq issues the next ledger seq. Seqs start at 1.
func (c *Clock) NextSeq() int64 {
	c.seq++
	return c.seq
}

// LastSeq returns the last issued seq, or 0.
func (c *Clock) LastSeq() int64 {
	return c.seq
}

// NextEventID issues the next event id ("evt-000001", ...).
func (c *Clock) NextEventID() string {
	c.events++
	return fmt.Sprintf("evt-%06d", c.events)
}
