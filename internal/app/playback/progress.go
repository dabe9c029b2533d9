package playback

import (
	"context"
	"time"
)

// progressTimer ticks on a goroutine until stopped.
type progressTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startProgressTimer(parent context.Context, interval time.Duration, tick func()) *progressTimer {
	ctx, cancel := context.WithCancel(parent)
	t := &progressTimer{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return t
}

func (t *progressTimer) stop() {
	t.cancel()
}
