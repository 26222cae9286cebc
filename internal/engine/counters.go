package engine

import "sync/atomic"

// Counters tracks engine-wide packet statistics using atomic counters, so
// the HTTP status endpoint can read them without contending with the
// packet-processing path. Adapted from the teacher's
// device/router/counters.go RouterCounters, narrowed to the drop/forward
// outcomes the transparent-forwarder Engine actually produces.
type Counters struct {
	Received    atomic.Uint32
	Forwarded   atomic.Uint32
	Duplicates  atomic.Uint32
	DroppedDuty atomic.Uint32
	DroppedFlood atomic.Uint32
	DroppedOther atomic.Uint32
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	Received     uint32
	Forwarded    uint32
	Duplicates   uint32
	DroppedDuty  uint32
	DroppedFlood uint32
	DroppedOther uint32
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Received:     c.Received.Load(),
		Forwarded:    c.Forwarded.Load(),
		Duplicates:   c.Duplicates.Load(),
		DroppedDuty:  c.DroppedDuty.Load(),
		DroppedFlood: c.DroppedFlood.Load(),
		DroppedOther: c.DroppedOther.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Received.Store(0)
	c.Forwarded.Store(0)
	c.Duplicates.Store(0)
	c.DroppedDuty.Store(0)
	c.DroppedFlood.Store(0)
	c.DroppedOther.Store(0)
}

// observe updates the counters for a completed Record.
func (c *Counters) observe(rec *Record) {
	c.Received.Add(1)
	switch {
	case rec.Transmitted:
		c.Forwarded.Add(1)
	case rec.IsDuplicate:
		c.Duplicates.Add(1)
	case rec.DropReason == DropDutyCycle:
		c.DroppedDuty.Add(1)
	case rec.DropReason == DropFloodPolicy:
		c.DroppedFlood.Add(1)
	case rec.DropReason != "":
		c.DroppedOther.Add(1)
	}
}
