package audio

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/domain/media"
)

// NullEngine plays sessions against the wall clock without producing
// sound. Sessions end after the asset duration has elapsed while playing.
type NullEngine struct {
	now func() time.Time
}

// NewNullEngine creates a null engine.
func NewNullEngine() *NullEngine {
	return &NullEngine{now: time.Now}
}

// Open implements playback.Engine.
func (e *NullEngine) Open(h *media.Handle, signals playback.Signals) (playback.Player, error) {
	d, err := h.Asset().Duration()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", h.Asset().Locator())
	}
	zlog.Debug().Msgf("audio: null session opened: locator=%s duration=%v", h.Asset().Locator(), d)
	return &nullPlayer{now: e.now, duration: d, level: 1, signals: signals}, nil
}

type nullPlayer struct {
	mu       sync.Mutex
	now      func() time.Time
	duration time.Duration
	offset   time.Duration
	started  time.Time
	playing  bool
	level    float64
	timer    *time.Timer
	gen      uint64
	closed   bool
	signals  playback.Signals
}

func (p *nullPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.playing {
		return
	}
	p.playing = true
	p.started = p.now()
	p.scheduleLocked()
}

func (p *nullPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.cancelLocked()
}

func (p *nullPlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("session closed")
	}
	p.offset = min(max(pos, 0), p.duration)
	if p.playing {
		p.started = p.now()
		p.scheduleLocked()
	}
	return nil
}

func (p *nullPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *nullPlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = min(max(v, 0), 1)
}

func (p *nullPlayer) CurrentTime() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, false
	}
	return p.positionLocked(), true
}

func (p *nullPlayer) Duration() (time.Duration, bool) {
	return p.duration, p.duration > 0
}

func (p *nullPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.playing = false
	p.cancelLocked()
	return nil
}

func (p *nullPlayer) positionLocked() time.Duration {
	if !p.playing {
		return p.offset
	}
	return min(p.offset+p.now().Sub(p.started), p.duration)
}

// scheduleLocked arms the end-of-media timer for the remaining time.
func (p *nullPlayer) scheduleLocked() {
	p.cancelLocked()
	gen := p.gen
	p.timer = time.AfterFunc(p.duration-p.offset, func() { p.finish(gen) })
}

// cancelLocked stops the timer and invalidates any fired callback.
func (p *nullPlayer) cancelLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

func (p *nullPlayer) finish(gen uint64) {
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.offset = p.duration
	p.playing = false
	p.timer = nil
	p.mu.Unlock()

	if p.signals.OnEnd != nil {
		p.signals.OnEnd()
	}
}
