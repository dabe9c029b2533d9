package source

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/dhowden/tag"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/domain/media"
)

// FileSourceConfig represents file source settings.
type FileSourceConfig struct {
	Root     string `yaml:"root" mapstructure:"root"`
	MaxBytes int64  `yaml:"max_bytes" mapstructure:"max_bytes" default:"268435456" validate:"gt=0"`
}

// FileSource loads local files and file:// URLs into memory.
type FileSource struct {
	config *FileSourceConfig
}

// NewFileSource creates a file source from settings.
// Settings may be empty.
func NewFileSource(settings map[string]any) (*FileSource, error) {
	var config FileSourceConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if config.Root != "" {
		info, err := os.Stat(config.Root)
		if err != nil {
			return nil, errors.Wrapf(err, "root %s", config.Root)
		}
		if !info.IsDir() {
			return nil, errors.Newf("root %s is not a directory", config.Root)
		}
	}
	return &FileSource{config: &config}, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Matches accepts plain paths and file:// URLs.
func (s *FileSource) Matches(locator string) bool {
	switch schemeOf(locator) {
	case "", "file":
		return locator != ""
	default:
		return false
	}
}

// Path maps a locator to a filesystem path.
func (s *FileSource) Path(locator string) (string, error) {
	p := locator
	if schemeOf(locator) == "file" {
		u, err := url.Parse(locator)
		if err != nil {
			return "", errors.Wrapf(err, "invalid file URL %q", locator)
		}
		p = filepath.FromSlash(u.Path)
	}
	if p == "" {
		return "", errors.Newf("empty path in locator %q", locator)
	}
	if !filepath.IsAbs(p) && s.config.Root != "" {
		p = filepath.Join(s.config.Root, p)
	}
	return p, nil
}

// Resolve reads the file and measures its duration.
func (s *FileSource) Resolve(ctx context.Context, locator string) (media.Asset, error) {
	data, p, err := s.read(ctx, locator)
	if err != nil {
		return nil, err
	}
	codec, err := CodecFor(p, "")
	if err != nil {
		return nil, err
	}
	return NewAsset(locator, data, codec), nil
}

// ReadMetadata emits the tags embedded in the file, reading only the parts
// the tag format needs. Files without tags emit nothing.
func (s *FileSource) ReadMetadata(ctx context.Context, locator string, emit func(media.Field)) error {
	p, err := s.stat(ctx, locator)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer f.Close()
	return emitTags(locator, f, emit)
}

func (s *FileSource) read(ctx context.Context, locator string) ([]byte, string, error) {
	p, err := s.stat(ctx, locator)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to read file")
	}
	return data, p, nil
}

// stat maps locator to a path and checks that it is a regular file within
// the size limit.
func (s *FileSource) stat(ctx context.Context, locator string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.Path(locator)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to stat file")
	}
	if info.IsDir() {
		return "", errors.Newf("%s is a directory", p)
	}
	if info.Size() > s.config.MaxBytes {
		return "", errors.Newf("%s exceeds %d bytes", p, s.config.MaxBytes)
	}
	return p, nil
}

// emitTags reads ID3/MP4/FLAC/OGG tags from r.
func emitTags(locator string, r io.ReadSeeker, emit func(media.Field)) error {
	m, err := tag.ReadFrom(r)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			zlog.Debug().Msgf("source: no tags: locator=%s", locator)
			return nil
		}
		return errors.Wrap(err, "failed to read tags")
	}
	if v := strings.TrimSpace(m.Title()); v != "" {
		emit(media.Field{Key: media.FieldTitle, Text: v})
	}
	if v := strings.TrimSpace(m.Album()); v != "" {
		emit(media.Field{Key: media.FieldAlbum, Text: v})
	}
	if v := strings.TrimSpace(m.Artist()); v != "" {
		emit(media.Field{Key: media.FieldArtist, Text: v})
	}
	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		emit(media.Field{Key: media.FieldArtwork, Data: pic.Data})
	}
	return nil
}

// schemeOf returns the lower-cased URL scheme of a locator, or "" for
// plain paths. Single-letter schemes are Windows drive letters.
func schemeOf(locator string) string {
	i := strings.Index(locator, ":")
	if i <= 1 {
		return ""
	}
	scheme := locator[:i]
	for j, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(scheme)
}
