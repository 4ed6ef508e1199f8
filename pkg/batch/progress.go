package batch

import "sync/atomic"

// Tracker counts finished jobs. Reads never block workers.
type Tracker struct {
	total     int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func newTracker(total int) *Tracker {
	return &Tracker{total: int64(total)}
}

func (t *Tracker) succeed() { t.succeeded.Add(1) }
func (t *Tracker) fail()    { t.failed.Add(1) }

func (t *Tracker) Total() int64 { return t.total }

// Snapshot returns finished, succeeded and failed counts.
func (t *Tracker) Snapshot() (done, succeeded, failed int64) {
	s, f := t.succeeded.Load(), t.failed.Load()
	return s + f, s, f
}
