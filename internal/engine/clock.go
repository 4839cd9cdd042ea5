package engine

import (
	"sync/atomic"
	"time"

	"raffle/internal/raffle"
)

// SystemClock reads wall time and numbers every reading with a slot that keeps
// increasing across restarts, since it starts from the wall clock in nanoseconds.
type SystemClock struct {
	slot atomic.Uint64
}

func NewSystemClock() *SystemClock {
	c := &SystemClock{}
	c.slot.Store(uint64(time.Now().UnixNano()))
	return c
}

func (c *SystemClock) Now() raffle.Snapshot {
	return raffle.Snapshot{
		Unix: time.Now().Unix(),
		Slot: c.slot.Add(1),
	}
}
