package source

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/domain/media"
)

// Source resolves and describes the locators it matches.
type Source interface {
	media.AssetLoader
	media.MetadataSource

	// Name returns the configured source type.
	Name() string
	// Matches reports whether the source handles the locator.
	Matches(locator string) bool
}

// Router dispatches locators to the first matching source.
// It implements both media.AssetLoader and media.MetadataSource.
type Router struct {
	sources []Source
}

// NewRouter creates a router over sources in priority order.
func NewRouter(sources ...Source) *Router {
	return &Router{sources: sources}
}

// Sources returns the registered sources in priority order.
func (r *Router) Sources() []Source {
	return r.sources
}

// Resolve resolves the locator with the first matching source.
func (r *Router) Resolve(ctx context.Context, locator string) (media.Asset, error) {
	s, err := r.route(locator)
	if err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("source: resolving: source=%s locator=%s", s.Name(), locator)
	asset, err := s.Resolve(ctx, locator)
	if err != nil {
		return nil, errors.Wrapf(err, "%s source", s.Name())
	}
	return asset, nil
}

// ReadMetadata reads metadata with the first matching source.
func (r *Router) ReadMetadata(ctx context.Context, locator string, emit func(media.Field)) error {
	s, err := r.route(locator)
	if err != nil {
		return err
	}
	return s.ReadMetadata(ctx, locator, emit)
}

func (r *Router) route(locator string) (Source, error) {
	for _, s := range r.sources {
		if s.Matches(locator) {
			return s, nil
		}
	}
	return nil, errors.Wrapf(ErrUnsupportedLocator, "locator %q", locator)
}
