package media

import (
	"context"
	"sync"
	"time"
)

// Asset is a resolved, decodable media asset.
type Asset interface {
	// Locator returns the locator the asset was resolved from.
	Locator() string
	// Duration reports the asset duration.
	// An error means the asset is not playable.
	Duration() (time.Duration, error)
}

// AssetLoader resolves locators into assets.
// Resolve may block; callers run it off the controller's context.
type AssetLoader interface {
	Resolve(ctx context.Context, locator string) (Asset, error)
}

// FieldKey identifies a descriptive metadata field.
type FieldKey string

const (
	FieldTitle   FieldKey = "title"
	FieldAlbum   FieldKey = "album"
	FieldArtist  FieldKey = "artist"
	FieldArtwork FieldKey = "artwork"
)

// Field is a single metadata value read from a source.
type Field struct {
	Key  FieldKey
	Text string // title, album, artist
	Data []byte // artwork image bytes
}

// MetadataSource reads descriptive metadata for a locator.
// Fields may be emitted in any order; emit must not be called after
// ReadMetadata returns.
type MetadataSource interface {
	ReadMetadata(ctx context.Context, locator string, emit func(Field)) error
}

// Clock reports the playback position of the session a handle is bound to.
type Clock interface {
	CurrentTime() (time.Duration, bool)
}

// Handle is a player-bindable instance of an asset.
// A fresh handle is created every time an item is (re)loaded so that a
// player session never shares one with a previous session.
type Handle struct {
	asset Asset

	mu    sync.Mutex
	clock Clock
	pos   time.Duration
}

// NewHandle creates a handle positioned at the start of the asset.
func NewHandle(asset Asset) *Handle {
	return &Handle{asset: asset}
}

// Asset returns the asset backing the handle.
func (h *Handle) Asset() Asset {
	return h.asset
}

// Attach binds the handle to a session clock.
func (h *Handle) Attach(clock Clock) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = clock
}

// Detach unbinds the session clock, keeping its last position.
func (h *Handle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clock == nil {
		return
	}
	if pos, ok := h.clock.CurrentTime(); ok {
		h.pos = pos
	}
	h.clock = nil
}

// Position returns the current position of the handle.
func (h *Handle) Position() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clock != nil {
		return h.clock.CurrentTime()
	}
	return h.pos, true
}
