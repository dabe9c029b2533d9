package playback

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/dispatch"
	"github.com/osa030/jukebox/internal/app/notification"
	"github.com/osa030/jukebox/internal/domain/media"
)

// Errors
var (
	ErrDuplicateLocator = errors.New("locator is already queued")
	ErrClosed           = errors.New("controller is closed")
)

const (
	DefaultProgressInterval = 100 * time.Millisecond
	DefaultMetadataDebounce = media.DefaultDebounce
)

// Config holds controller configuration.
type Config struct {
	ProgressInterval         time.Duration // Progress notification period
	MetadataDebounce         time.Duration // Metadata coalescing window
	PreviousRestartThreshold time.Duration // PlayPrevious restarts the item past this position (0 disables)
	DisablePreload           bool          // Do not load neighbours of the played index
}

// Deps holds the controller collaborators.
type Deps struct {
	Engine       Engine               // required
	Loader       media.AssetLoader    // required
	Metadata     media.MetadataSource // optional
	Listener     Listener             // optional
	AudioSession AudioSession         // optional
	NowPlaying   NowPlaying           // optional
}

// Status is a snapshot of the controller.
type Status struct {
	State       State
	Index       int
	Count       int
	Item        *media.Item
	Position    time.Duration
	HasPosition bool
	Duration    time.Duration
	HasDuration bool
	Volume      float64
}

// Controller plays an ordered queue of media items through one player
// session at a time.
//
// All state is guarded by mu. Asynchronous completions (loads, metadata,
// timer ticks, session signals) are funnelled through a serial queue and
// then applied under mu, so every mutation happens in one serialized context.
type Controller struct {
	mu sync.Mutex

	// Queue
	queue []*media.Item
	index int
	state State

	// Session
	player         Player
	playerHandle   *media.Handle
	sessionGen     uint64
	timer          *progressTimer
	volume         float64
	interrupted    bool
	backgroundTask bool

	// Configuration and collaborators
	config     Config
	engine     Engine
	loader     media.AssetLoader
	metadata   media.MetadataSource
	session    AudioSession
	nowPlaying NowPlaying

	// Delivery
	serial *dispatch.Queue
	events *notification.Manager[Event]

	// Context
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewController creates a controller with an initial queue. The audio
// session is activated before the controller is returned.
func NewController(config Config, deps Deps, items []*media.Item) (*Controller, error) {
	if deps.Engine == nil {
		return nil, errors.New("playback engine is required")
	}
	if deps.Loader == nil {
		return nil, errors.New("asset loader is required")
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = DefaultProgressInterval
	}
	if config.MetadataDebounce <= 0 {
		config.MetadataDebounce = DefaultMetadataDebounce
	}
	if deps.AudioSession == nil {
		deps.AudioSession = nopAudioSession{}
	}
	if deps.NowPlaying == nil {
		deps.NowPlaying = nopNowPlaying{}
	}

	if err := deps.AudioSession.Activate(); err != nil {
		return nil, errors.Wrap(err, "failed to activate audio session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		queue:      make([]*media.Item, 0, len(items)),
		state:      StateReady,
		volume:     1.0,
		config:     config,
		engine:     deps.Engine,
		loader:     deps.Loader,
		metadata:   deps.Metadata,
		session:    deps.AudioSession,
		nowPlaying: deps.NowPlaying,
		serial:     dispatch.NewQueue(),
		events:     notification.NewManager[Event](),
		ctx:        ctx,
		cancel:     cancel,
	}
	if deps.Listener != nil {
		// The listener sees every event; only remote streams may be evicted
		c.events.Subscribe(listenerStream{listener: deps.Listener}, notification.WithBacklog(0))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		if err := c.appendLocked(item); err != nil {
			c.closeLocked()
			return nil, err
		}
	}

	zlog.Debug().Msgf("playback: controller created: items=%d", len(c.queue))
	return c, nil
}

// Subscribe registers an event stream and returns its subscription ID.
func (c *Controller) Subscribe(stream notification.Stream[Event]) string {
	return c.events.Subscribe(stream)
}

// Unsubscribe removes an event stream.
func (c *Controller) Unsubscribe(id string) {
	c.events.Unsubscribe(id)
}

// Done is closed when the controller is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Play plays the current index.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playAtLocked(c.index)
}

// PlayAt plays the item at index. If that item is already current and
// loaded, playback resumes without reloading or seeking. Out-of-range
// indices are ignored.
func (c *Controller) PlayAt(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playAtLocked(index)
}

// Pause pauses playback. It has no effect unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = false
	c.pauseLocked()
}

// Stop tears down the session and rewinds the queue to index 0.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Replay restarts the queue from its first item.
func (c *Controller) Replay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operationalLocked() {
		return
	}
	c.stopProgressTimerLocked()
	if c.index == 0 {
		c.seekLocked(0, true)
		return
	}
	c.seekLocked(0, false)
	c.playAtLocked(0)
}

// ReplayCurrentItem restarts the current item.
func (c *Controller) ReplayCurrentItem() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operationalLocked() {
		return
	}
	c.seekLocked(0, true)
}

// PlayNext plays the following item. It has no effect without a session
// or at the end of the queue.
func (c *Controller) PlayNext() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operationalLocked() {
		return
	}
	c.playAtLocked(c.index + 1)
}

// PlayPrevious plays the preceding item. When a restart threshold is
// configured and the current position is past it, the current item is
// restarted instead.
func (c *Controller) PlayPrevious() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operationalLocked() || c.index == 0 {
		return
	}
	if threshold := c.config.PreviousRestartThreshold; threshold > 0 {
		item := c.currentItemLocked()
		item.Update()
		if pos, ok := item.CurrentTime(); ok && pos >= threshold {
			c.seekLocked(0, false)
			return
		}
	}
	c.playAtLocked(c.index - 1)
}

// Seek moves the current session to pos. When shouldPlay is set playback
// resumes and the state becomes playing.
func (c *Controller) Seek(pos time.Duration, shouldPlay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(pos, shouldPlay)
}

// Append adds item to the end of the queue. The index and state are not
// changed. It fails with ErrDuplicateLocator when an item with the same
// locator is already queued.
func (c *Controller) Append(item *media.Item, loadAssets bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.appendLocked(item); err != nil {
		return err
	}
	if loadAssets {
		item.RequestLoad()
	}
	c.publishLocked(Event{Type: EventQueueChanged})
	return nil
}

// Remove removes item from the queue. Removing the current item ends the
// session and leaves the controller ready on the same slot.
func (c *Controller) Remove(item *media.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOfLocked(item)
	if idx < 0 {
		return
	}
	c.removeAtLocked(idx)
	c.publishLocked(Event{Type: EventQueueChanged})
}

// RemoveItems removes every item with the given locator and returns how
// many were removed.
func (c *Controller) RemoveItems(locator string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for i := len(c.queue) - 1; i >= 0; i-- {
		if c.queue[i].Locator() == locator {
			c.removeAtLocked(i)
			removed++
		}
	}
	if removed > 0 {
		c.publishLocked(Event{Type: EventQueueChanged})
	}
	return removed
}

// Volume returns the output volume in [0, 1].
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player != nil {
		return c.player.Volume()
	}
	return c.volume
}

// SetVolume sets the output volume, clamped to [0, 1]. The level is kept
// for sessions opened later.
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = min(max(v, 0), 1)
	if c.player != nil {
		c.player.SetVolume(c.volume)
	}
}

// HandleInterruption applies a host audio interruption. Playback paused by
// an interruption resumes when it ends with ShouldResume.
func (c *Controller) HandleInterruption(ev Interruption) {
	c.mu.Lock()
	defer c.mu.Unlock()

	zlog.Debug().Msgf("playback: interruption: type=%s should_resume=%v state=%s", ev.Type, ev.ShouldResume, c.state)
	switch ev.Type {
	case InterruptionBegan:
		if c.state == StatePlaying {
			c.pauseLocked()
			c.interrupted = true
		}
	case InterruptionEnded:
		if ev.ShouldResume && c.interrupted && c.state == StatePaused {
			c.resumeLocked()
		}
		c.interrupted = false
	}
}

// State returns the playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentIndex returns the current queue index.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// CurrentItem returns the item at the current index, or nil.
func (c *Controller) CurrentItem() *media.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentItemLocked()
}

// Items returns a copy of the queue.
func (c *Controller) Items() []*media.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queue)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:  c.state,
		Index:  c.index,
		Count:  len(c.queue),
		Volume: c.volume,
	}
	if c.player != nil {
		st.Volume = c.player.Volume()
	}
	if item := c.currentItemLocked(); item != nil {
		st.Item = item
		st.Position, st.HasPosition = item.CurrentTime()
		meta := item.Meta()
		st.Duration, st.HasDuration = meta.Duration, meta.DurationKnown
	}
	return st
}

// Close stops playback, detaches every item and stops event delivery.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Controller) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.invalidatePlaybackLocked(false)
	for _, item := range c.queue {
		item.Detach()
	}
	c.endBackgroundTaskLocked()
	c.cancel()
	c.serial.Close()
	c.events.Close()
	zlog.Debug().Msg("playback: controller closed")
}

// submit runs fn under the controller lock, after every previously
// submitted function.
func (c *Controller) submit(fn func()) {
	c.serial.Submit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		fn()
	})
}

func (c *Controller) owner() media.Owner {
	return media.Owner{
		Loader:   c.loader,
		Metadata: c.metadata,
		Observer: itemObserver{c: c},
		Execute:  c.submit,
		Debounce: c.config.MetadataDebounce,
	}
}

func (c *Controller) appendLocked(item *media.Item) error {
	if item == nil {
		return errors.AssertionFailedf("cannot queue a nil item")
	}
	for _, queued := range c.queue {
		if queued.Locator() == item.Locator() {
			return errors.Mark(
				errors.AssertionFailedf("locator %q is already queued", item.Locator()),
				ErrDuplicateLocator)
		}
	}
	if err := item.Attach(c.owner()); err != nil {
		return errors.Wrap(err, "failed to queue item")
	}
	c.queue = append(c.queue, item)
	return nil
}

func (c *Controller) removeAtLocked(idx int) {
	item := c.queue[idx]
	wasCurrent := idx == c.index

	if wasCurrent && c.state != StateReady {
		c.invalidatePlaybackLocked(false)
		c.endBackgroundTaskLocked()
		c.setStateLocked(StateReady)
	}
	c.queue = slices.Delete(c.queue, idx, idx+1)
	item.Detach()

	if idx < c.index {
		c.index--
	}
	if c.index >= len(c.queue) {
		c.index = max(len(c.queue)-1, 0)
	}
	zlog.Debug().Msgf("playback: item removed: locator=%s index=%d count=%d", item.Locator(), c.index, len(c.queue))
}

func (c *Controller) playAtLocked(index int) {
	if c.closed || index < 0 || index >= len(c.queue) {
		return
	}
	c.interrupted = false
	c.beginBackgroundTaskLocked()

	item := c.queue[index]
	if item.Handle() != nil && c.index == index && c.player != nil {
		c.resumeLocked()
		return
	}

	c.index = index
	if h := item.Refresh(); h != nil {
		c.startNewPlayerLocked(item, h)
	} else {
		c.loadCurrentItemLocked()
	}
	c.preloadAdjacentLocked(index)
	c.updateNowPlayingLocked()
}

func (c *Controller) loadCurrentItemLocked() {
	item := c.currentItemLocked()
	if item == nil {
		return
	}
	c.invalidatePlaybackLocked(false)
	c.setStateLocked(StateLoading)
	zlog.Debug().Msgf("playback: loading: index=%d locator=%s", c.index, item.Locator())
	item.RequestLoad()
}

func (c *Controller) preloadAdjacentLocked(index int) {
	if c.config.DisablePreload {
		return
	}
	for _, i := range []int{index - 1, index + 1} {
		if i >= 0 && i < len(c.queue) {
			c.queue[i].RequestLoad()
		}
	}
}

func (c *Controller) startNewPlayerLocked(item *media.Item, h *media.Handle) {
	c.invalidatePlaybackLocked(false)

	gen := c.sessionGen
	p, err := c.engine.Open(h, Signals{
		OnEnd:   func() { c.submit(func() { c.itemDidPlayToEndLocked(gen) }) },
		OnStall: func() { c.submit(func() { c.playbackStalledLocked(gen) }) },
	})
	if err != nil {
		zlog.Error().Msgf("playback: failed to open session: locator=%s err=%v", item.Locator(), err)
		c.setStateLocked(StateFailed)
		return
	}

	h.Attach(p)
	c.player = p
	c.playerHandle = h
	p.SetVolume(c.volume)
	zlog.Debug().Msgf("playback: session opened: index=%d locator=%s", c.index, item.Locator())

	c.startProgressTimerLocked()
	c.seekLocked(0, true)
}

// resumeLocked restarts the bound player. Callers reach it only from Paused.
func (c *Controller) resumeLocked() {
	if c.state == StatePlaying || c.player == nil {
		return
	}
	c.startProgressTimerLocked()
	c.player.Play()
	c.setStateLocked(StatePlaying)
	c.updateNowPlayingLocked()
}

func (c *Controller) pauseLocked() {
	if c.state != StatePlaying {
		return
	}
	c.stopProgressTimerLocked()
	c.player.Pause()
	if item := c.currentItemLocked(); item != nil {
		item.Update()
	}
	c.setStateLocked(StatePaused)
	c.updateNowPlayingLocked()
}

func (c *Controller) stopLocked() {
	c.invalidatePlaybackLocked(true)
	c.interrupted = false
	c.setStateLocked(StateReady)
	c.endBackgroundTaskLocked()
}

func (c *Controller) seekLocked(pos time.Duration, shouldPlay bool) {
	item := c.currentItemLocked()
	if c.player == nil || item == nil {
		return
	}
	if err := c.player.Seek(pos); err != nil {
		zlog.Warn().Msgf("playback: seek failed: pos=%s err=%v", pos, err)
	}
	item.Update()

	if shouldPlay {
		c.startProgressTimerLocked()
		c.player.Play()
		c.setStateLocked(StatePlaying)
	}
	c.publishLocked(Event{Type: EventProgressChanged, Item: item})
}

// invalidatePlaybackLocked closes the session and stops the progress timer.
// Signals of the closed session are ignored from here on.
func (c *Controller) invalidatePlaybackLocked(resetIndex bool) {
	c.stopProgressTimerLocked()
	if c.player != nil {
		c.player.Pause()
		c.playerHandle.Detach()
		if err := c.player.Close(); err != nil {
			zlog.Warn().Msgf("playback: failed to close session: err=%v", err)
		}
		c.player = nil
		c.playerHandle = nil
	}
	c.sessionGen++
	if resetIndex {
		c.index = 0
	}
}

func (c *Controller) startProgressTimerLocked() {
	if c.player == nil || c.timer != nil {
		return
	}
	if d, ok := c.player.Duration(); !ok || d <= 0 {
		zlog.Debug().Msg("playback: duration unknown, progress timer not started")
		return
	}

	var t *progressTimer
	t = startProgressTimer(c.ctx, c.config.ProgressInterval, func() {
		c.submit(func() { c.progressTickLocked(t) })
	})
	c.timer = t
}

func (c *Controller) stopProgressTimerLocked() {
	if c.timer == nil {
		return
	}
	c.timer.stop()
	c.timer = nil
}

func (c *Controller) progressTickLocked(t *progressTimer) {
	if c.timer != t || c.player == nil {
		return
	}
	item := c.currentItemLocked()
	if item == nil {
		return
	}
	item.Update()
	if _, ok := item.CurrentTime(); ok {
		c.publishLocked(Event{Type: EventProgressChanged, Item: item})
	}
}

func (c *Controller) itemDidPlayToEndLocked(gen uint64) {
	if gen != c.sessionGen || c.player == nil {
		return
	}
	zlog.Debug().Msgf("playback: item ended: index=%d", c.index)
	if c.index >= len(c.queue)-1 {
		c.stopLocked()
		return
	}
	c.playAtLocked(c.index + 1)
}

func (c *Controller) playbackStalledLocked(gen uint64) {
	if gen != c.sessionGen || c.player == nil || c.state != StatePlaying {
		return
	}
	zlog.Warn().Msgf("playback: session stalled, restarting output: index=%d", c.index)
	c.player.Pause()
	c.player.Play()
}

func (c *Controller) itemLoadedLocked(item *media.Item) {
	c.publishLocked(Event{Type: EventItemLoaded, Item: item})

	idx := c.indexOfLocked(item)
	h := item.Handle()
	if h == nil || c.state != StateLoading || idx != c.index {
		return
	}
	zlog.Debug().Msgf("playback: load completed: index=%d locator=%s", idx, item.Locator())
	c.startNewPlayerLocked(item, h)
	c.updateNowPlayingLocked()
}

func (c *Controller) itemLoadFailedLocked(item *media.Item, err error) {
	idx := c.indexOfLocked(item)
	if idx < 0 || c.state != StateLoading || idx != c.index {
		zlog.Debug().Msgf("playback: preload failed: locator=%s err=%v", item.Locator(), err)
		return
	}
	zlog.Error().Msgf("playback: load failed: index=%d locator=%s err=%v", idx, item.Locator(), err)
	c.invalidatePlaybackLocked(false)
	c.endBackgroundTaskLocked()
	c.setStateLocked(StateFailed)
}

func (c *Controller) itemMetadataUpdatedLocked(item *media.Item) {
	if c.indexOfLocked(item) < 0 {
		return
	}
	if item == c.currentItemLocked() {
		c.updateNowPlayingLocked()
	}
	c.publishLocked(Event{Type: EventMetadataUpdated, Item: item})
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	zlog.Debug().Msgf("playback: state changed: %s -> %s index=%d", c.state, s, c.index)
	c.state = s
	c.publishLocked(Event{Type: EventStateChanged})
}

func (c *Controller) publishLocked(ev Event) {
	ev.State = c.state
	ev.Index = c.index
	c.events.Broadcast(ev)
}

func (c *Controller) updateNowPlayingLocked() {
	item := c.currentItemLocked()
	if item == nil {
		return
	}
	meta := item.Meta()
	info := NowPlayingInfo{
		Title:       item.DisplayTitle(),
		Artist:      meta.Artist,
		Album:       meta.Album,
		Artwork:     meta.Artwork,
		Duration:    meta.Duration,
		HasDuration: meta.DurationKnown,
		QueueIndex:  c.index,
		QueueCount:  len(c.queue),
	}
	info.Elapsed, _ = item.CurrentTime()
	c.nowPlaying.Update(info)
}

func (c *Controller) beginBackgroundTaskLocked() {
	if c.backgroundTask {
		return
	}
	c.session.BeginBackgroundTask()
	c.backgroundTask = true
}

func (c *Controller) endBackgroundTaskLocked() {
	if !c.backgroundTask {
		return
	}
	c.session.EndBackgroundTask()
	c.backgroundTask = false
}

func (c *Controller) operationalLocked() bool {
	return c.player != nil && c.currentItemLocked() != nil
}

func (c *Controller) currentItemLocked() *media.Item {
	if c.index < 0 || c.index >= len(c.queue) {
		return nil
	}
	return c.queue[c.index]
}

func (c *Controller) indexOfLocked(item *media.Item) int {
	if item == nil {
		return -1
	}
	return slices.IndexFunc(c.queue, func(q *media.Item) bool { return q.ID() == item.ID() })
}

// itemObserver receives item callbacks, which already run under the
// controller lock through submit.
type itemObserver struct {
	c *Controller
}

func (o itemObserver) ItemLoaded(item *media.Item) {
	o.c.itemLoadedLocked(item)
}

func (o itemObserver) ItemLoadFailed(item *media.Item, err error) {
	o.c.itemLoadFailedLocked(item, err)
}

func (o itemObserver) ItemMetadataUpdated(item *media.Item) {
	o.c.itemMetadataUpdatedLocked(item)
}
