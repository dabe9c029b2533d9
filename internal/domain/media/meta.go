package media

import (
	"net/url"
	"path"
	"time"
)

// Meta holds descriptive metadata of an item.
type Meta struct {
	Duration      time.Duration
	DurationKnown bool
	Title         string
	Album         string
	Artist        string
	Artwork       []byte
}

func (m *Meta) apply(f Field) bool {
	switch f.Key {
	case FieldTitle:
		m.Title = f.Text
	case FieldAlbum:
		m.Album = f.Text
	case FieldArtist:
		m.Artist = f.Text
	case FieldArtwork:
		m.Artwork = f.Data
	default:
		return false
	}
	return true
}

// DisplayTitle returns the best title for presentation: the metadata
// title, then the local title, then the last path component of the locator.
func DisplayTitle(meta Meta, localTitle, locator string) string {
	if meta.Title != "" {
		return meta.Title
	}
	if localTitle != "" {
		return localTitle
	}
	return lastPathComponent(locator)
}

func lastPathComponent(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return locator
	}
	return base
}
