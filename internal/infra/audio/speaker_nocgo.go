//go:build !((linux && cgo) || windows || darwin)

package audio

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
)

// Available indicates whether speaker output is supported in this build.
// Speaker output requires cgo for native sound libraries.
const Available = false

// newSpeakerEngine falls back to the null engine when cgo is disabled.
func newSpeakerEngine(Config) (playback.Engine, error) {
	zlog.Warn().Msg("audio: speaker output unavailable in this build, using null output")
	return NewNullEngine(), nil
}
