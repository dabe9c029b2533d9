// Package spotify provides a client for the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Track represents the track fields used for playback and display.
type Track struct {
	ID          string
	Name        string
	Artists     []string
	Album       string
	AlbumArtURL string
	Duration    time.Duration
	PreviewURL  string
	URL         string
}

// ArtistNames joins the artist names for display.
func (t *Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration

	// Cache for track lookups
	trackCache map[string]*Track
	cacheMu    sync.RWMutex
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	// APIURL and TokenURL override the public endpoints.
	APIURL   string
	TokenURL string
}

// New creates a new Spotify client using the client credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}

	// Get HTTP client with auto-refresh capability
	httpClient := cc.Client(ctx)

	var opts []spotify.ClientOption
	if cfg.APIURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.APIURL))
	}
	client := spotify.New(httpClient, opts...)

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	return &Client{
		client:     client,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
		trackCache: make(map[string]*Track),
	}, nil
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	// Extract track ID from URL/URI if necessary
	id := extractTrackID(trackID)
	if id == "" {
		return nil, errors.Newf("invalid track reference %q", trackID)
	}

	// Check cache first
	c.cacheMu.RLock()
	if t, ok := c.trackCache[id]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("spotify: using cached track: id=%s", id)
		return t, nil
	}
	c.cacheMu.RUnlock()

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	t := c.convertTrack(result)

	// Cache the result
	c.cacheMu.Lock()
	c.trackCache[id] = t
	c.cacheMu.Unlock()

	return t, nil
}

// GetPlaylistTracks retrieves all tracks from a playlist.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistURL string) ([]Track, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var tracks []Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *c.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return tracks, nil
}

// convertTrack converts a Spotify FullTrack to Track.
func (c *Client) convertTrack(t *spotify.FullTrack) *Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	return &Track{
		ID:          string(t.ID),
		Name:        t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
		PreviewURL:  t.PreviewURL,
		URL:         GetTrackURL(string(t.ID)),
	}
}

// GetTrackURL returns the Spotify URL for a track.
func GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry runs fn up to maxRetries times with linear backoff, giving up early
// when ctx ends or the error is permanent.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if i == c.maxRetries-1 {
			break
		}

		delay := c.retryDelay * time.Duration(i+1)
		zlog.Debug().Msgf("spotify: retrying: attempt=%d delay=%v err=%v", i+1, delay, err)
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry aborted")
		case <-time.After(delay):
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable reports whether err is a rate limit or a server error.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsTrackLocator reports whether input names a Spotify track.
func IsTrackLocator(input string) bool {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return len(input) > len("spotify:track:")
	}
	return isOpenURL(input, "/track/")
}

// IsPlaylistLocator reports whether input names a Spotify playlist.
func IsPlaylistLocator(input string) bool {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:playlist:") {
		return len(input) > len("spotify:playlist:")
	}
	return isOpenURL(input, "/playlist/")
}

func isOpenURL(input, kind string) bool {
	for _, prefix := range []string{"https://open.spotify.com/", "http://open.spotify.com/"} {
		if strings.HasPrefix(input, prefix) {
			return strings.Contains(input, kind)
		}
	}
	return false
}

func extractPlaylistID(input string) string { return extractID(input, "playlist") }

func extractTrackID(input string) string { return extractID(input, "track") }

// extractID returns the ID part of a spotify:<kind>:ID URI or an
// open.spotify.com/<kind>/ID URL, or input itself when it is neither.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if id, ok := strings.CutPrefix(input, "spotify:"+kind+":"); ok {
		return id
	}
	if strings.Contains(input, "open.spotify.com") {
		if i := strings.LastIndex(input, "/"+kind+"/"); i >= 0 {
			id, _, _ := strings.Cut(input[i+len(kind)+2:], "?")
			return strings.TrimRight(id, "/")
		}
	}
	return input
}
