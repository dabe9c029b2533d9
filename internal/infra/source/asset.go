// Package source provides asset loaders and metadata sources for media items.
package source

import (
	"bytes"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Errors
var (
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
	ErrUnsupportedLocator = errors.New("no source handles locator")
)

// Codec identifies an audio container/codec pair.
type Codec string

const (
	CodecMP3    Codec = "mp3"
	CodecWAV    Codec = "wav"
	CodecFLAC   Codec = "flac"
	CodecVorbis Codec = "vorbis"
)

var codecByExt = map[string]Codec{
	".mp3":  CodecMP3,
	".wav":  CodecWAV,
	".wave": CodecWAV,
	".flac": CodecFLAC,
	".ogg":  CodecVorbis,
	".oga":  CodecVorbis,
}

var codecByMIME = map[string]Codec{
	"audio/mpeg":      CodecMP3,
	"audio/mp3":       CodecMP3,
	"audio/wav":       CodecWAV,
	"audio/x-wav":     CodecWAV,
	"audio/wave":      CodecWAV,
	"audio/flac":      CodecFLAC,
	"audio/x-flac":    CodecFLAC,
	"audio/ogg":       CodecVorbis,
	"audio/vorbis":    CodecVorbis,
	"application/ogg": CodecVorbis,
}

// CodecFor picks a codec from a file name, falling back to a MIME type.
func CodecFor(name, contentType string) (Codec, error) {
	if c, ok := codecByExt[strings.ToLower(path.Ext(name))]; ok {
		return c, nil
	}
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if c, ok := codecByMIME[mt]; ok {
				return c, nil
			}
		}
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "name=%q content_type=%q", name, contentType)
}

func (c Codec) decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	r := readSeekNopCloser{bytes.NewReader(data)}
	switch c {
	case CodecMP3:
		return mp3.Decode(r)
	case CodecWAV:
		return wav.Decode(r)
	case CodecFLAC:
		return flac.Decode(r)
	case CodecVorbis:
		return vorbis.Decode(r)
	default:
		return nil, beep.Format{}, errors.Wrapf(ErrUnsupportedFormat, "codec %q", string(c))
	}
}

// Asset is an in-memory encoded audio asset.
// Every Decode returns an independent stream over the same bytes.
type Asset struct {
	locator  string
	data     []byte
	codec    Codec
	format   beep.Format
	duration time.Duration
	err      error
}

// NewAsset decodes data once to learn its format and duration. A decode
// failure is reported by Duration, not here.
func NewAsset(locator string, data []byte, codec Codec) *Asset {
	a := &Asset{locator: locator, data: data, codec: codec}
	a.inspect()
	return a
}

func (a *Asset) inspect() {
	s, format, err := a.codec.decode(a.data)
	if err != nil {
		a.err = errors.Wrapf(err, "decode %s", a.locator)
		return
	}
	defer s.Close()

	n := s.Len()
	if n <= 0 {
		a.err = errors.Newf("asset %s has no measurable length", a.locator)
		return
	}
	a.format = format
	a.duration = format.SampleRate.D(n)
}

// Locator implements media.Asset.
func (a *Asset) Locator() string { return a.locator }

// Duration implements media.Asset.
func (a *Asset) Duration() (time.Duration, error) {
	if a.err != nil {
		return 0, a.err
	}
	return a.duration, nil
}

// Codec returns the codec of the asset.
func (a *Asset) Codec() Codec { return a.codec }

// Format returns the decoded stream format.
func (a *Asset) Format() beep.Format { return a.format }

// Size returns the encoded size in bytes.
func (a *Asset) Size() int { return len(a.data) }

// Decode opens a new seekable stream over the asset.
func (a *Asset) Decode() (beep.StreamSeekCloser, beep.Format, error) {
	if a.err != nil {
		return nil, beep.Format{}, a.err
	}
	return a.codec.decode(a.data)
}

// readSeekNopCloser lets decoders that want a ReadCloser seek in memory.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }
