// Package media provides the MediaItem domain entity and its load lifecycle.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrAlreadyOwned = errors.New("item is already owned by a queue")
	ErrNoAsset      = errors.New("loader returned no asset")
)

// DefaultDebounce is the metadata coalescing window used when an owner
// does not set one.
const DefaultDebounce = 500 * time.Millisecond

// LoadState represents where an item is in its load lifecycle.
type LoadState int

const (
	LoadStateUnloaded LoadState = iota // No load requested
	LoadStateLoading                   // Asset resolution in flight
	LoadStateLoaded                    // Handle bound
	LoadStateFailed                    // Last resolution failed
)

// String returns the string representation of the load state.
func (s LoadState) String() string {
	switch s {
	case LoadStateUnloaded:
		return "unloaded"
	case LoadStateLoading:
		return "loading"
	case LoadStateLoaded:
		return "loaded"
	case LoadStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives item lifecycle notifications.
// Methods are invoked through the owner's Executor.
type Observer interface {
	ItemLoaded(item *Item)
	ItemLoadFailed(item *Item, err error)
	ItemMetadataUpdated(item *Item)
}

// Executor runs fn on the owner's serialized context.
type Executor func(fn func())

// Owner wires an item to the queue that owns it.
type Owner struct {
	Loader   AssetLoader
	Metadata MetadataSource // optional
	Observer Observer
	Execute  Executor
	Debounce time.Duration
}

// Item is a queued playable entry.
type Item struct {
	id         string
	locator    string
	localTitle string

	mu             sync.RWMutex
	meta           Meta
	handle         *Handle
	currentTime    time.Duration
	hasCurrentTime bool
	loadIssued     bool
	loadState      LoadState
	loadErr        error

	owner    *Owner
	ctx      context.Context
	cancel   context.CancelFunc
	debounce *debouncer
}

// NewItem creates an unloaded item. localTitle may be empty.
func NewItem(locator, localTitle string) *Item {
	return &Item{
		id:         uuid.New().String(),
		locator:    locator,
		localTitle: localTitle,
	}
}

// ID returns the stable identifier of the item.
func (i *Item) ID() string { return i.id }

// Locator returns the source locator.
func (i *Item) Locator() string { return i.locator }

// LocalTitle returns the display title override.
func (i *Item) LocalTitle() string { return i.localTitle }

// String implements fmt.Stringer.
func (i *Item) String() string {
	return fmt.Sprintf("Item(%s, %s)", i.id, i.locator)
}

// Meta returns a snapshot of the item metadata.
func (i *Item) Meta() Meta {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.meta
}

// DisplayTitle returns the title to present for the item.
func (i *Item) DisplayTitle() string {
	return DisplayTitle(i.Meta(), i.localTitle, i.locator)
}

// Handle returns the bound handle, or nil until loading completes.
func (i *Item) Handle() *Handle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.handle
}

// CurrentTime returns the last sampled playback position.
func (i *Item) CurrentTime() (time.Duration, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.currentTime, i.hasCurrentTime
}

// LoadState returns the load lifecycle state.
func (i *Item) LoadState() LoadState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadState
}

// LoadErr returns the error of the last failed resolution.
func (i *Item) LoadErr() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadErr
}

// Owned reports whether the item is attached to a queue.
func (i *Item) Owned() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.owner != nil
}

// Attach hands the item to an owner and starts reading its metadata.
func (i *Item) Attach(o Owner) error {
	if o.Loader == nil || o.Observer == nil || o.Execute == nil {
		return errors.AssertionFailedf("owner of %s is missing a loader, observer or executor", i)
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}

	i.mu.Lock()
	if i.owner != nil {
		i.mu.Unlock()
		return errors.Wrapf(ErrAlreadyOwned, "attach %s", i)
	}
	owner := &o
	i.owner = owner
	i.ctx, i.cancel = context.WithCancel(context.Background())
	i.debounce = newDebouncer(o.Debounce, func() {
		owner.Execute(func() {
			if !i.ownedBy(owner) {
				return
			}
			owner.Observer.ItemMetadataUpdated(i)
		})
	})
	ctx := i.ctx
	i.mu.Unlock()

	if o.Metadata != nil {
		go i.readMetadata(ctx, owner)
	}
	return nil
}

// Detach releases the item from its owner. Background work is cancelled,
// pending notifications are dropped and the handle is released.
func (i *Item) Detach() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.owner == nil {
		return
	}
	i.cancel()
	i.debounce.Stop()
	i.owner = nil
	i.handle = nil
	i.loadIssued = false
	i.loadState = LoadStateUnloaded
}

// RequestLoad ensures the item has a handle.
//
// An item that already has a handle gets a fresh one from the same asset and
// signals loaded right away. A request while a load is in flight is ignored.
// Otherwise the asset is resolved on a background goroutine and the outcome
// is reported to the owner's observer through its executor.
func (i *Item) RequestLoad() {
	i.mu.Lock()
	owner := i.owner
	if owner == nil {
		i.mu.Unlock()
		return
	}
	if i.handle != nil {
		i.handle = NewHandle(i.handle.Asset())
		i.updateLocked()
		i.mu.Unlock()
		owner.Execute(func() {
			if i.ownedBy(owner) {
				owner.Observer.ItemLoaded(i)
			}
		})
		return
	}
	if i.loadIssued {
		i.mu.Unlock()
		return
	}
	i.loadIssued = true
	i.loadState = LoadStateLoading
	ctx := i.ctx
	i.mu.Unlock()

	go i.resolve(ctx, owner)
}

// Refresh replaces the handle with a fresh one from the same asset and
// returns it. It returns nil when the item is not loaded.
func (i *Item) Refresh() *Handle {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.handle == nil {
		return nil
	}
	i.handle = NewHandle(i.handle.Asset())
	i.updateLocked()
	return i.handle
}

// Update samples duration and current time from the bound handle.
func (i *Item) Update() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.updateLocked()
}

func (i *Item) updateLocked() {
	if i.handle == nil {
		return
	}
	if d, err := i.handle.Asset().Duration(); err == nil {
		i.meta.Duration = d
		i.meta.DurationKnown = true
	}
	if pos, ok := i.handle.Position(); ok {
		i.currentTime = pos
		i.hasCurrentTime = true
	}
}

func (i *Item) ownedBy(owner *Owner) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.owner == owner
}

func (i *Item) resolve(ctx context.Context, owner *Owner) {
	asset, err := owner.Loader.Resolve(ctx, i.locator)
	if err == nil && asset == nil {
		err = ErrNoAsset
	}
	if err == nil {
		if _, derr := asset.Duration(); derr != nil {
			err = errors.Wrapf(derr, "asset %s is not playable", i.locator)
		}
	} else {
		err = errors.Wrapf(err, "resolve %s", i.locator)
	}

	owner.Execute(func() {
		i.completeLoad(owner, asset, err)
	})
}

func (i *Item) completeLoad(owner *Owner, asset Asset, err error) {
	i.mu.Lock()
	if i.owner != owner {
		i.mu.Unlock()
		zlog.Debug().Msgf("media: dropping load result for detached item: id=%s", i.id)
		return
	}
	if err != nil {
		i.loadIssued = false
		i.loadState = LoadStateFailed
		i.loadErr = err
		i.mu.Unlock()
		owner.Observer.ItemLoadFailed(i, err)
		return
	}
	i.handle = NewHandle(asset)
	i.loadState = LoadStateLoaded
	i.loadErr = nil
	i.updateLocked()
	i.mu.Unlock()

	owner.Observer.ItemLoaded(i)
}

func (i *Item) readMetadata(ctx context.Context, owner *Owner) {
	err := owner.Metadata.ReadMetadata(ctx, i.locator, func(f Field) {
		owner.Execute(func() {
			i.applyField(owner, f)
		})
	})
	if err != nil && ctx.Err() == nil {
		zlog.Debug().Msgf("media: metadata unavailable: locator=%s err=%v", i.locator, err)
	}
}

func (i *Item) applyField(owner *Owner, f Field) {
	i.mu.Lock()
	if i.owner != owner {
		i.mu.Unlock()
		return
	}
	changed := i.meta.apply(f)
	d := i.debounce
	i.mu.Unlock()

	if changed {
		d.Trigger()
	}
}
