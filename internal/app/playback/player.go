package playback

import (
	"time"

	"github.com/osa030/jukebox/internal/domain/media"
)

// Signals are session callbacks raised by the engine. They may be invoked
// from any goroutine; the controller discards signals from sessions it has
// already replaced.
type Signals struct {
	OnEnd   func() // the session played to the end of its media
	OnStall func() // the session stopped advancing while playing
}

// Engine opens player sessions.
type Engine interface {
	Open(h *media.Handle, signals Signals) (Player, error)
}

// Player is a decode/render session bound to one handle.
// A new session starts paused at position zero.
type Player interface {
	Play()
	Pause()
	Seek(pos time.Duration) error
	Volume() float64
	SetVolume(v float64)
	CurrentTime() (time.Duration, bool)
	Duration() (time.Duration, bool)
	Close() error
}
