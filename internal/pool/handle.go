package pool

import "time"

// Handle tracks one work item from Add until it finishes or is discarded.
type Handle struct {
	id   uint64
	done chan struct{}
	err  error
}

func newHandle(id uint64) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the pool-local sequence number of the item.
func (h *Handle) ID() uint64 {
	return h.id
}

// Done is closed once the item has finished or been discarded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the item's outcome. It is nil until Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// level is a channel that stays closed while a condition holds.
type level struct {
	ch  chan struct{}
	set bool
}

func newLevel(set bool) level {
	l := level{ch: make(chan struct{})}
	if set {
		close(l.ch)
		l.set = true
	}
	return l
}

func (l *level) update(cond bool) {
	switch {
	case cond && !l.set:
		close(l.ch)
		l.set = true
	case !cond && l.set:
		l.ch = make(chan struct{})
		l.set = false
	}
}

func wait(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout < 0 {
		<-ch
		return true
	}

	select {
	case <-ch:
		return true
	default:
	}
	if timeout == 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
