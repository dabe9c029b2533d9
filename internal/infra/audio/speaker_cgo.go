//go:build (linux && cgo) || windows || darwin

package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/domain/media"
)

// Available indicates whether speaker output is supported in this build.
const Available = true

// speakerEngine renders sessions through the shared beep speaker.
type speakerEngine struct {
	sampleRate beep.SampleRate
	stallCheck time.Duration
}

func newSpeakerEngine(cfg Config) (playback.Engine, error) {
	sr := beep.SampleRate(cfg.SampleRate)
	if err := speaker.Init(sr, sr.N(cfg.Buffer)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	zlog.Info().Msgf("audio: speaker initialized: sample_rate=%d buffer=%v", cfg.SampleRate, cfg.Buffer)
	return &speakerEngine{sampleRate: sr, stallCheck: cfg.StallCheck}, nil
}

// Open implements playback.Engine.
func (e *speakerEngine) Open(h *media.Handle, signals playback.Signals) (playback.Player, error) {
	asset := h.Asset()
	dec, ok := asset.(Decodable)
	if !ok {
		return nil, errors.AssertionFailedf("asset %s (%T) is not decodable", asset.Locator(), asset)
	}
	streamer, format, err := dec.Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", asset.Locator())
	}

	p := &speakerPlayer{
		streamer: streamer,
		format:   format,
		level:    1,
		signals:  signals,
		done:     make(chan struct{}),
	}

	// Resample if needed to match speaker sample rate
	var resampled beep.Streamer = streamer
	if format.SampleRate != e.sampleRate {
		resampled = beep.Resample(4, format.SampleRate, e.sampleRate, streamer)
	}
	p.volume = &effects.Volume{Streamer: resampled, Base: 2}
	p.ctrl = &beep.Ctrl{Streamer: p.volume, Paused: true}

	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		if p.closed.Load() {
			return
		}
		// Run signal in separate goroutine; the speaker lock is held here
		if signals.OnEnd != nil {
			go signals.OnEnd()
		}
	})))

	go p.watch(e.stallCheck)

	zlog.Debug().Msgf("audio: session opened: locator=%s rate=%d channels=%d", asset.Locator(), format.SampleRate, format.NumChannels)
	return p, nil
}

// speakerPlayer is one speaker session. Fields read by the speaker
// goroutine are guarded by speaker.Lock.
type speakerPlayer struct {
	mu sync.Mutex

	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	level    float64
	signals  playback.Signals

	closed atomic.Bool
	done   chan struct{}
}

func (p *speakerPlayer) Play() {
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
}

func (p *speakerPlayer) Pause() {
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
}

func (p *speakerPlayer) Seek(pos time.Duration) error {
	if p.closed.Load() {
		return errors.New("session closed")
	}
	speaker.Lock()
	defer speaker.Unlock()

	n := min(max(p.format.SampleRate.N(pos), 0), p.streamer.Len())
	if err := p.streamer.Seek(n); err != nil {
		return errors.Wrap(err, "seek failed")
	}
	return nil
}

func (p *speakerPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *speakerPlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.level = min(max(v, 0), 1)
	vol, silent := gain(p.level)
	p.mu.Unlock()

	speaker.Lock()
	p.volume.Volume = vol
	p.volume.Silent = silent
	speaker.Unlock()
}

func (p *speakerPlayer) CurrentTime() (time.Duration, bool) {
	if p.closed.Load() {
		return 0, false
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos), true
}

func (p *speakerPlayer) Duration() (time.Duration, bool) {
	n := p.streamer.Len()
	if n <= 0 {
		return 0, false
	}
	return p.format.SampleRate.D(n), true
}

func (p *speakerPlayer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)

	speaker.Lock()
	p.ctrl.Paused = true
	p.ctrl.Streamer = nil
	speaker.Unlock()

	return p.streamer.Close()
}

// watch raises OnStall when a playing session stops advancing.
func (p *speakerPlayer) watch(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var d stallDetector
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			speaker.Lock()
			playing := !p.ctrl.Paused
			pos, length := p.streamer.Position(), p.streamer.Len()
			speaker.Unlock()

			if d.observe(pos, length, playing) && p.signals.OnStall != nil {
				zlog.Warn().Msgf("audio: session stalled: position=%v", p.format.SampleRate.D(pos))
				p.signals.OnStall()
			}
		}
	}
}
