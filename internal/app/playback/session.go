package playback

import (
	"time"

	zlog "github.com/rs/zerolog/log"
)

// AudioSession is the host audio session.
type AudioSession interface {
	Activate() error
	BeginBackgroundTask()
	EndBackgroundTask()
}

// NowPlayingInfo describes the current item for a now-playing surface.
type NowPlayingInfo struct {
	Title       string
	Artist      string
	Album       string
	Artwork     []byte
	Elapsed     time.Duration
	Duration    time.Duration
	HasDuration bool
	QueueIndex  int
	QueueCount  int
}

// NowPlaying receives now-playing updates.
type NowPlaying interface {
	Update(info NowPlayingInfo)
}

// InterruptionType represents an audio interruption phase.
type InterruptionType int

const (
	InterruptionBegan InterruptionType = iota
	InterruptionEnded
)

// String returns the string representation of the interruption type.
func (t InterruptionType) String() string {
	switch t {
	case InterruptionBegan:
		return "began"
	case InterruptionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Interruption is an audio interruption reported by the host.
type Interruption struct {
	Type         InterruptionType
	ShouldResume bool // only meaningful when Type is InterruptionEnded
}

type nopAudioSession struct{}

func (nopAudioSession) Activate() error      { return nil }
func (nopAudioSession) BeginBackgroundTask() {}
func (nopAudioSession) EndBackgroundTask()   {}

type nopNowPlaying struct{}

func (nopNowPlaying) Update(NowPlayingInfo) {}

// LogNowPlaying writes now-playing updates to the log.
type LogNowPlaying struct{}

// Update implements NowPlaying.
func (LogNowPlaying) Update(info NowPlayingInfo) {
	zlog.Info().Msgf("now playing: %s - %s [%d/%d] %s/%s",
		info.Artist, info.Title, info.QueueIndex+1, info.QueueCount,
		info.Elapsed.Truncate(time.Second), info.Duration.Truncate(time.Second))
}
