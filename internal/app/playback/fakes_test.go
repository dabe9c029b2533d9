package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jukebox/internal/domain/media"
)

type fakeAsset struct {
	locator  string
	duration time.Duration
}

func (a *fakeAsset) Locator() string { return a.locator }

func (a *fakeAsset) Duration() (time.Duration, error) {
	if a.duration < 0 {
		return 0, errors.New("indefinite")
	}
	return a.duration, nil
}

// fakeLoader resolves locators to fakeAssets. Locators can be held until
// released, or configured to fail.
type fakeLoader struct {
	mu       sync.Mutex
	duration time.Duration
	fail     map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		duration: 3 * time.Minute,
		fail:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (l *fakeLoader) Resolve(ctx context.Context, locator string) (media.Asset, error) {
	l.mu.Lock()
	l.calls[locator]++
	gate := l.gates[locator]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail[locator]; err != nil {
		return nil, err
	}
	return &fakeAsset{locator: locator, duration: l.duration}, nil
}

func (l *fakeLoader) hold(locator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gates[locator] = make(chan struct{})
}

func (l *fakeLoader) release(locator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gate, ok := l.gates[locator]; ok {
		close(gate)
		delete(l.gates, locator)
	}
}

func (l *fakeLoader) setFail(locator string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.fail, locator)
		return
	}
	l.fail[locator] = err
}

func (l *fakeLoader) setDuration(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.duration = d
}

func (l *fakeLoader) callCount(locator string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[locator]
}

type fakePlayer struct {
	mu      sync.Mutex
	handle  *media.Handle
	signals Signals
	playing bool
	pos     time.Duration
	volume  float64
	seeks   []time.Duration
	plays   int
	pauses  int
	closed  bool
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.plays++
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.pauses++
}

func (p *fakePlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *fakePlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *fakePlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

func (p *fakePlayer) CurrentTime() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos, true
}

func (p *fakePlayer) Duration() (time.Duration, bool) {
	d, err := p.handle.Asset().Duration()
	return d, err == nil
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.playing = false
	return nil
}

func (p *fakePlayer) setPosition(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
}

func (p *fakePlayer) isPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePlayer) counts() (plays, pauses, seeks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.pauses, len(p.seeks)
}

func (p *fakePlayer) locator() string {
	return p.handle.Asset().Locator()
}

type fakeEngine struct {
	mu      sync.Mutex
	players []*fakePlayer
	openErr error
}

func (e *fakeEngine) Open(h *media.Handle, signals Signals) (Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	p := &fakePlayer{handle: h, signals: signals, volume: 1}
	e.players = append(e.players, p)
	return p, nil
}

func (e *fakeEngine) opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

func (e *fakeEngine) last() *fakePlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.players) == 0 {
		return nil
	}
	return e.players[len(e.players)-1]
}

func (e *fakeEngine) openCount(locator string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.players {
		if p.locator() == locator {
			n++
		}
	}
	return n
}

// recordingListener records notifications as strings.
type recordingListener struct {
	mu      sync.Mutex
	events  []string
	onState func(State)
}

func (l *recordingListener) record(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *recordingListener) OnStateChanged(state State) {
	l.record("state:" + state.String())
	if l.onState != nil {
		l.onState(state)
	}
}

func (l *recordingListener) OnProgressChanged() { l.record("progress") }

func (l *recordingListener) OnItemLoaded(item *media.Item) { l.record("loaded:" + item.Locator()) }

func (l *recordingListener) OnMetadataUpdated(item *media.Item) {
	l.record("metadata:" + item.Locator())
}

func (l *recordingListener) filtered(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingListener) states() []string {
	return l.filtered("state:")
}

func (l *recordingListener) count(event string) int {
	return len(l.filtered(event))
}

type fakeAudioSession struct {
	mu          sync.Mutex
	activateErr error
	begun       int
	ended       int
}

func (s *fakeAudioSession) Activate() error { return s.activateErr }

func (s *fakeAudioSession) BeginBackgroundTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun++
}

func (s *fakeAudioSession) EndBackgroundTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
}

func (s *fakeAudioSession) tasks() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun, s.ended
}

type fakeNowPlaying struct {
	mu   sync.Mutex
	last NowPlayingInfo
	n    int
}

func (n *fakeNowPlaying) Update(info NowPlayingInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = info
	n.n++
}

func (n *fakeNowPlaying) snapshot() (NowPlayingInfo, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last, n.n
}

type scriptedMetadata struct {
	fields map[string][]media.Field
}

func (m *scriptedMetadata) ReadMetadata(_ context.Context, locator string, emit func(media.Field)) error {
	for _, f := range m.fields[locator] {
		emit(f)
	}
	return nil
}

type harness struct {
	c          *Controller
	engine     *fakeEngine
	loader     *fakeLoader
	listener   *recordingListener
	session    *fakeAudioSession
	nowPlaying *fakeNowPlaying
	items      []*media.Item
}

type harnessOption func(*Config, *Deps)

func withConfig(fn func(*Config)) harnessOption {
	return func(cfg *Config, _ *Deps) { fn(cfg) }
}

func withMetadata(md media.MetadataSource) harnessOption {
	return func(_ *Config, deps *Deps) { deps.Metadata = md }
}

func locatorOf(i int) string {
	return fmt.Sprintf("track-%d.mp3", i)
}

func newHarness(t *testing.T, n int, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		engine:     &fakeEngine{},
		loader:     newFakeLoader(),
		listener:   &recordingListener{},
		session:    &fakeAudioSession{},
		nowPlaying: &fakeNowPlaying{},
	}
	for i := range n {
		h.items = append(h.items, media.NewItem(locatorOf(i), ""))
	}

	cfg := Config{
		ProgressInterval: 20 * time.Millisecond,
		MetadataDebounce: 20 * time.Millisecond,
	}
	deps := Deps{
		Engine:       h.engine,
		Loader:       h.loader,
		Listener:     h.listener,
		AudioSession: h.session,
		NowPlaying:   h.nowPlaying,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	c, err := NewController(cfg, deps, h.items)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	h.c = c
	return h
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State() == s }, time.Second, 2*time.Millisecond,
		"expected state %s, got %s", s, h.c.State())
}

// playing starts item i and waits until it plays.
func (h *harness) playing(t *testing.T, i int) *fakePlayer {
	t.Helper()
	h.c.PlayAt(i)
	return h.waitPlaying(t, i)
}

// waitPlaying waits until item i plays and returns its session.
func (h *harness) waitPlaying(t *testing.T, i int) *fakePlayer {
	t.Helper()
	require.Eventually(t, func() bool {
		p := h.engine.last()
		return h.c.State() == StatePlaying && h.c.CurrentIndex() == i && p != nil && p.locator() == locatorOf(i)
	}, time.Second, 2*time.Millisecond)
	return h.engine.last()
}

// settle waits for queued asynchronous work to be applied.
func (h *harness) settle() {
	time.Sleep(30 * time.Millisecond)
}

func (h *harness) timerRunning() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.timer != nil
}

func (h *harness) hasPlayer() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.player != nil
}
