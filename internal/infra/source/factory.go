package source

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/infra/config"
	"github.com/osa030/jukebox/internal/infra/spotify"
)

// Types lists the supported source types.
func Types() []string {
	return []string{"file", "http", "spotify"}
}

// NewRouterFromConfig creates a router from the configured sources.
// Sources are consulted in configuration order.
func NewRouterFromConfig(cfgs []config.SourceConfig) (*Router, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no sources configured")
	}

	var sources []Source

	for i, scfg := range cfgs {
		var s Source
		var err error
		zlog.Debug().Msgf("source: creating: index=%d type=%s", i+1, scfg.Type)
		switch scfg.Type {
		case "file":
			s, err = NewFileSource(scfg.Settings)

		case "http":
			s, err = NewHTTPSource(scfg.Settings)

		case "spotify":
			var fetcher *HTTPSource
			fetcher, err = NewHTTPSource(scfg.Settings)
			if err == nil {
				s, err = spotify.NewSource(scfg.Settings, fetcher)
			}

		default:
			return nil, errors.Newf("unsupported source type: %s (source index %d)", scfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
		}

		sources = append(sources, s)
		zlog.Info().Msgf("source: registered: index=%d type=%s", i+1, scfg.Type)
	}

	return NewRouter(sources...), nil
}
