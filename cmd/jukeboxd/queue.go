package main

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/domain/media"
	"github.com/osa030/jukebox/internal/domain/playlist"
	"github.com/osa030/jukebox/internal/infra/config"
	"github.com/osa030/jukebox/internal/infra/source"
	"github.com/osa030/jukebox/internal/infra/spotify"
)

// expander turns a remote playlist into track locators.
type expander interface {
	PlaylistLocators(ctx context.Context, playlistURL string) ([]string, error)
}

// playlistExpander returns the first spotify source of the router, if any.
func playlistExpander(router *source.Router) expander {
	for _, s := range router.Sources() {
		if sp, ok := s.(*spotify.Source); ok {
			return sp
		}
	}
	return nil
}

// buildItems assembles the initial queue: playlist file entries, then the
// spotify playlist, then explicit items. Repeated locators keep their
// first occurrence.
func buildItems(ctx context.Context, cfg config.QueueConfig, exp expander) ([]*media.Item, error) {
	var items []*media.Item
	seen := make(map[string]bool)
	add := func(item *media.Item) {
		if seen[item.Locator()] {
			zlog.Warn().Msgf("Skipping duplicate queue entry: %s", item.Locator())
			return
		}
		seen[item.Locator()] = true
		items = append(items, item)
	}

	if cfg.Playlist != "" {
		pl, err := playlist.Load(cfg.Playlist)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("Loaded playlist: name=%s entries=%d total=%v", pl.Name, len(pl.Entries), pl.TotalDuration())
		for _, item := range pl.Items() {
			add(item)
		}
	}

	if cfg.SpotifyPlaylist != "" {
		if exp == nil {
			return nil, errors.New("spotify playlist configured without a spotify source")
		}
		locators, err := exp.PlaylistLocators(ctx, cfg.SpotifyPlaylist)
		if err != nil {
			return nil, errors.Wrap(err, "failed to expand spotify playlist")
		}
		for _, l := range locators {
			add(media.NewItem(l, ""))
		}
	}

	for _, l := range cfg.Items {
		add(media.NewItem(l, ""))
	}
	return items, nil
}

// logListener logs controller events.
type logListener struct{}

func (logListener) OnStateChanged(state playback.State) {
	zlog.Info().Msgf("Playback state: %s", state)
}

func (logListener) OnProgressChanged() {}

func (logListener) OnItemLoaded(item *media.Item) {
	zlog.Debug().Msgf("Item loaded: %s", item.DisplayTitle())
}

func (logListener) OnMetadataUpdated(item *media.Item) {
	meta := item.Meta()
	zlog.Info().Msgf("Metadata updated: title=%s artist=%s album=%s", item.DisplayTitle(), meta.Artist, meta.Album)
}
