package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/osa030/jukebox/internal/domain/media"
)

// HTTPSourceConfig represents HTTP source settings.
type HTTPSourceConfig struct {
	TimeoutSec   int    `yaml:"timeout_sec" mapstructure:"timeout_sec" default:"30" validate:"gte=1"`
	MaxBytes     int64  `yaml:"max_bytes" mapstructure:"max_bytes" default:"67108864" validate:"gt=0"`
	CacheEntries int    `yaml:"cache_entries" mapstructure:"cache_entries" default:"8" validate:"gte=0"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent" default:"jukebox/1.0"`

	// Tags are read from a prefix of at most MetadataBytes unless the full
	// body is already cached or being downloaded.
	MetadataBytes       int64 `yaml:"metadata_bytes" mapstructure:"metadata_bytes" default:"262144" validate:"gt=0"`
	MetadataConcurrency int64 `yaml:"metadata_concurrency" mapstructure:"metadata_concurrency" default:"4" validate:"gte=1"`
}

// body is a downloaded response.
type body struct {
	data        []byte
	contentType string
}

// HTTPSource downloads http:// and https:// locators into memory.
// Concurrent downloads of one URL share a single request and recent
// downloads are cached. Metadata reads join a cached or in-flight download
// and otherwise fetch only a bounded prefix.
type HTTPSource struct {
	config     *HTTPSourceConfig
	httpClient *http.Client
	flights    singleflight.Group
	metaSem    *semaphore.Weighted

	cacheMu    sync.Mutex
	cache      map[string]*body
	cacheOrder []string
	inflight   map[string]bool
}

// NewHTTPSource creates an HTTP source from settings.
// Settings may be empty.
func NewHTTPSource(settings map[string]any) (*HTTPSource, error) {
	var config HTTPSourceConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &HTTPSource{
		config:     &config,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutSec) * time.Second},
		metaSem:    semaphore.NewWeighted(config.MetadataConcurrency),
		cache:      make(map[string]*body),
		inflight:   make(map[string]bool),
	}, nil
}

// Name implements Source.
func (s *HTTPSource) Name() string { return "http" }

// Matches accepts http and https URLs.
func (s *HTTPSource) Matches(locator string) bool {
	switch schemeOf(locator) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// Resolve downloads the locator and measures its duration.
func (s *HTTPSource) Resolve(ctx context.Context, locator string) (media.Asset, error) {
	return s.ResolveURL(ctx, locator, locator)
}

// ResolveURL downloads rawURL and returns an asset reporting locator.
func (s *HTTPSource) ResolveURL(ctx context.Context, locator, rawURL string) (media.Asset, error) {
	b, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid URL %q", rawURL)
	}
	codec, err := CodecFor(u.Path, b.contentType)
	if err != nil {
		return nil, err
	}
	return NewAsset(locator, b.data, codec), nil
}

// ReadMetadata emits the tags embedded in the stream.
func (s *HTTPSource) ReadMetadata(ctx context.Context, locator string, emit func(media.Field)) error {
	if err := s.metaSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.metaSem.Release(1)

	var data []byte
	if s.available(locator) {
		b, err := s.fetch(ctx, locator)
		if err != nil {
			return err
		}
		data = b.data
	} else {
		prefix, err := s.fetchPrefix(ctx, locator)
		if err != nil {
			return err
		}
		data = prefix
	}
	return emitTags(locator, bytes.NewReader(data), emit)
}

// Fetch downloads rawURL, returning its body and content type.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	b, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	return b.data, b.contentType, nil
}

// available reports whether rawURL is cached or being downloaded.
func (s *HTTPSource) available(rawURL string) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	_, ok := s.cache[rawURL]
	return ok || s.inflight[rawURL]
}

func (s *HTTPSource) cached(rawURL string) *body {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache[rawURL]
}

func (s *HTTPSource) setInflight(rawURL string, v bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if v {
		s.inflight[rawURL] = true
	} else {
		delete(s.inflight, rawURL)
	}
}

func (s *HTTPSource) fetch(ctx context.Context, rawURL string) (*body, error) {
	if b := s.cached(rawURL); b != nil {
		zlog.Debug().Msgf("source: using cached body: url=%s", rawURL)
		return b, nil
	}

	v, err, shared := s.flights.Do(rawURL, func() (any, error) {
		if b := s.cached(rawURL); b != nil {
			return b, nil
		}
		s.setInflight(rawURL, true)
		defer s.setInflight(rawURL, false)

		b, err := s.download(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		s.store(rawURL, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zlog.Debug().Msgf("source: shared download: url=%s", rawURL)
	}
	return v.(*body), nil
}

func (s *HTTPSource) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	return req, nil
}

func (s *HTTPSource) download(ctx context.Context, rawURL string) (*body, error) {
	req, err := s.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %s for %s", resp.Status, rawURL)
	}
	if resp.ContentLength > s.config.MaxBytes {
		return nil, errors.Newf("%s exceeds %d bytes", rawURL, s.config.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if int64(len(data)) > s.config.MaxBytes {
		return nil, errors.Newf("%s exceeds %d bytes", rawURL, s.config.MaxBytes)
	}
	zlog.Debug().Msgf("source: downloaded: url=%s size=%s", rawURL, humanBytes(len(data)))
	return &body{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

// fetchPrefix reads at most MetadataBytes from the start of rawURL. Servers
// that ignore the range header have their response cut short.
func (s *HTTPSource) fetchPrefix(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := s.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", s.config.MetadataBytes-1))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, errors.Newf("unexpected status %s for %s", resp.Status, rawURL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MetadataBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	return data, nil
}

// store caches b, evicting the oldest entry when full.
func (s *HTTPSource) store(rawURL string, b *body) {
	if s.config.CacheEntries == 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if _, ok := s.cache[rawURL]; ok {
		return
	}
	for len(s.cacheOrder) >= s.config.CacheEntries {
		delete(s.cache, s.cacheOrder[0])
		s.cacheOrder = s.cacheOrder[1:]
	}
	s.cache[rawURL] = b
	s.cacheOrder = append(s.cacheOrder, rawURL)
}

func humanBytes(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	if n < 1024*1024 {
		return fmt.Sprintf("%.1fKiB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1fMiB", float64(n)/(1024*1024))
}
