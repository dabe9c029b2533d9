//go:build windows

package main

import "github.com/osa030/jukebox/internal/app/playback"

// watchInterruptions is a no-op; Windows has no user signals.
func watchInterruptions(*playback.Controller) (stop func()) {
	return func() {}
}
