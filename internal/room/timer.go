package room

import "time"

// roundTimer is the single pending timer of a room. Arming replaces the pending timer,
// and every arm or stop bumps the generation so a callback that already fired but is
// still waiting for the room lock can tell it has been superseded.
//
// It is not safe for concurrent use; callers hold the room lock.
type roundTimer struct {
	t   *time.Timer
	gen uint64
}

func (rt *roundTimer) arm(d time.Duration, fire func(gen uint64)) {
	rt.stop()

	gen := rt.gen
	rt.t = time.AfterFunc(d, func() { fire(gen) })
}

func (rt *roundTimer) stop() {
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
	rt.gen++
}

// claim reports whether gen is the pending timer and, if so, marks it consumed.
func (rt *roundTimer) claim(gen uint64) bool {
	if rt.t == nil || rt.gen != gen {
		return false
	}
	rt.t = nil
	return true
}

func (rt *roundTimer) pending() bool {
	return rt.t != nil
}
