//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
)

// watchInterruptions maps SIGUSR1 to an interruption beginning and SIGUSR2
// to an interruption ending that allows playback to resume.
func watchInterruptions(c *playback.Controller) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				ev := playback.Interruption{Type: playback.InterruptionBegan}
				if sig == syscall.SIGUSR2 {
					ev = playback.Interruption{Type: playback.InterruptionEnded, ShouldResume: true}
				}
				zlog.Info().Msgf("Audio interruption %s", ev.Type)
				c.HandleInterruption(ev)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
