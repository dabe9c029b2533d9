// Package audio provides playback engines for the queue controller.
package audio

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
)

// Output names.
const (
	OutputSpeaker = "speaker"
	OutputNull    = "null"
)

// Decodable is implemented by assets the speaker engine can render.
type Decodable interface {
	Decode() (beep.StreamSeekCloser, beep.Format, error)
}

// Config represents engine configuration.
type Config struct {
	Output     string
	SampleRate int
	Buffer     time.Duration
	StallCheck time.Duration
}

// New creates the engine named by cfg.Output.
func New(cfg Config) (playback.Engine, error) {
	switch cfg.Output {
	case OutputNull:
		zlog.Info().Msg("audio: using null output")
		return NewNullEngine(), nil
	case OutputSpeaker, "":
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = 44100
		}
		if cfg.Buffer <= 0 {
			cfg.Buffer = 100 * time.Millisecond
		}
		if cfg.StallCheck <= 0 {
			cfg.StallCheck = time.Second
		}
		return newSpeakerEngine(cfg)
	default:
		return nil, errors.Newf("unsupported audio output: %s", cfg.Output)
	}
}

// gain maps a linear 0..1 level onto effects.Volume with base 2.
func gain(level float64) (volume float64, silent bool) {
	level = min(max(level, 0), 1)
	if level == 0 {
		return 0, true
	}
	return math.Log2(level), false
}

// stallDetector flags a playing session whose position stops advancing
// before the end of its stream.
type stallDetector struct {
	last    int
	primed  bool
	flagged bool
}

// observe records a sample and reports whether a new stall began.
func (d *stallDetector) observe(pos, length int, playing bool) bool {
	if !playing || pos >= length {
		d.primed = false
		d.flagged = false
		return false
	}
	if d.primed && pos == d.last {
		if d.flagged {
			return false
		}
		d.flagged = true
		return true
	}
	d.last = pos
	d.primed = true
	d.flagged = false
	return false
}
