package spotify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/domain/media"
)

// ErrNoPreview is returned for tracks without a preview stream.
var ErrNoPreview = errors.New("track has no preview stream")

// Fetcher downloads the preview stream and artwork.
type Fetcher interface {
	ResolveURL(ctx context.Context, locator, rawURL string) (media.Asset, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// SourceConfig represents spotify source settings.
type SourceConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret" validate:"required"`
	Market       string `yaml:"market" mapstructure:"market" default:"JP" validate:"len=2"`
	APIURL       string `yaml:"api_url" mapstructure:"api_url" validate:"omitempty,url"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url" validate:"omitempty,url"`
	Artwork      *bool  `yaml:"artwork" mapstructure:"artwork" default:"true"`
}

// Source resolves Spotify track locators to their preview streams.
type Source struct {
	client  *Client
	fetcher Fetcher
	artwork bool
}

// NewSource creates a spotify source from settings.
func NewSource(settings map[string]any, fetcher Fetcher) (*Source, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config SourceConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	client, err := New(context.Background(), Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Market:       config.Market,
		APIURL:       config.APIURL,
		TokenURL:     config.TokenURL,
	})
	if err != nil {
		return nil, err
	}
	return &Source{client: client, fetcher: fetcher, artwork: *config.Artwork}, nil
}

// Name returns the source type.
func (s *Source) Name() string { return "spotify" }

// Matches accepts spotify:track: URIs and open.spotify.com track URLs.
func (s *Source) Matches(locator string) bool {
	return IsTrackLocator(locator)
}

// Client returns the underlying API client.
func (s *Source) Client() *Client { return s.client }

// Resolve downloads the preview stream of the track.
func (s *Source) Resolve(ctx context.Context, locator string) (media.Asset, error) {
	t, err := s.client.GetTrack(ctx, locator)
	if err != nil {
		return nil, err
	}
	if t.PreviewURL == "" {
		return nil, errors.Wrapf(ErrNoPreview, "track %s", t.ID)
	}
	zlog.Debug().Msgf("spotify: resolving preview: id=%s name=%s", t.ID, t.Name)
	return s.fetcher.ResolveURL(ctx, locator, t.PreviewURL)
}

// ReadMetadata emits the track's catalog metadata.
// Artwork download failures are logged and skipped.
func (s *Source) ReadMetadata(ctx context.Context, locator string, emit func(media.Field)) error {
	t, err := s.client.GetTrack(ctx, locator)
	if err != nil {
		return err
	}
	if t.Name != "" {
		emit(media.Field{Key: media.FieldTitle, Text: t.Name})
	}
	if len(t.Artists) > 0 {
		emit(media.Field{Key: media.FieldArtist, Text: t.ArtistNames()})
	}
	if t.Album != "" {
		emit(media.Field{Key: media.FieldAlbum, Text: t.Album})
	}
	if s.artwork && t.AlbumArtURL != "" {
		data, _, err := s.fetcher.Fetch(ctx, t.AlbumArtURL)
		if err != nil {
			zlog.Warn().Err(err).Msgf("spotify: artwork download failed: id=%s", t.ID)
			return nil
		}
		emit(media.Field{Key: media.FieldArtwork, Data: data})
	}
	return nil
}

// PlaylistLocators expands a playlist into track locators.
func (s *Source) PlaylistLocators(ctx context.Context, playlistURL string) ([]string, error) {
	tracks, err := s.client.GetPlaylistTracks(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	locators := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.PreviewURL == "" {
			zlog.Debug().Msgf("spotify: skipping track without preview: id=%s name=%s", t.ID, t.Name)
			continue
		}
		locators = append(locators, "spotify:track:"+t.ID)
	}
	zlog.Info().Msgf("spotify: expanded playlist: url=%s tracks=%d playable=%d", playlistURL, len(tracks), len(locators))
	return locators, nil
}
