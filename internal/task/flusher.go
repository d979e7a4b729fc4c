package task

import (
	"sync"
	"time"
)

// flusher calls flush on a fixed interval until stopped.
type flusher struct {
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func startFlusher(interval time.Duration, flush func()) *flusher {
	f := &flusher{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(f.stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-f.done:
				return
			case <-ticker.C:
				flush()
			}
		}
	}()

	return f
}

// stop ends the loop and waits for an in-progress flush to return.
func (f *flusher) stop() {
	f.stopOnce.Do(func() { close(f.done) })
	<-f.stopped
}
