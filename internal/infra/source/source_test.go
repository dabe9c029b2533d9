package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jukebox/internal/domain/media"
	"github.com/osa030/jukebox/internal/infra/config"
)

var testFormat = beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}

// wavBytes encodes d of silence.
func wavBytes(t *testing.T, d time.Duration) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, wav.Encode(f, beep.Silence(testFormat.SampleRate.N(d)), testFormat))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// id3v1 builds a trailing ID3v1 tag.
func id3v1(title, artist, album string) []byte {
	tag := make([]byte, 128)
	copy(tag, "TAG")
	copy(tag[3:33], title)
	copy(tag[33:63], artist)
	copy(tag[63:93], album)
	tag[127] = 255
	return tag
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		expected    Codec
		wantErr     bool
	}{
		{name: "mp3 extension", file: "a.MP3", expected: CodecMP3},
		{name: "wav extension", file: "/x/y.wav", expected: CodecWAV},
		{name: "flac extension", file: "z.flac", expected: CodecFLAC},
		{name: "ogg extension", file: "z.ogg", expected: CodecVorbis},
		{name: "mime fallback", file: "/stream", contentType: "audio/mpeg", expected: CodecMP3},
		{name: "mime with params", file: "/stream", contentType: "audio/ogg; codecs=vorbis", expected: CodecVorbis},
		{name: "extension wins", file: "a.wav", contentType: "audio/mpeg", expected: CodecWAV},
		{name: "unknown", file: "a.aac", contentType: "audio/aac", wantErr: true},
		{name: "nothing", file: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodecFor(tt.file, tt.contentType)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
		})
	}
}

func TestAsset(t *testing.T) {
	a := NewAsset("a.wav", wavBytes(t, time.Second), CodecWAV)

	d, err := a.Duration()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
	assert.Equal(t, "a.wav", a.Locator())
	assert.Equal(t, testFormat.SampleRate, a.Format().SampleRate)

	s1, _, err := a.Decode()
	require.NoError(t, err)
	defer s1.Close()
	s2, _, err := a.Decode()
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s1.Seek(4000))
	assert.Equal(t, 4000, s1.Position())
	assert.Equal(t, 0, s2.Position())
}

func TestAsset_Garbage(t *testing.T) {
	a := NewAsset("bad.mp3", []byte("definitely not audio"), CodecMP3)
	_, err := a.Duration()
	assert.Error(t, err)
	_, _, err = a.Decode()
	assert.Error(t, err)
}

func TestSchemeOf(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/music/a.mp3", ""},
		{"music/a.mp3", ""},
		{`C:\music\a.mp3`, ""},
		{"file:///music/a.mp3", "file"},
		{"HTTPS://example.com/a.mp3", "https"},
		{"spotify:track:abc", "spotify"},
		{"my song: live.mp3", ""},
		{":nothing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, schemeOf(tt.input))
		})
	}
}

func TestFileSource(t *testing.T) {
	root := t.TempDir()
	data := append(wavBytes(t, 500*time.Millisecond), id3v1("Nardis", "Bill Evans", "Explorations")...)
	abs := writeFile(t, root, "nardis.wav", data)
	writeFile(t, root, "notes.txt", []byte("hello"))

	s, err := NewFileSource(map[string]any{"root": root})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("matches", func(t *testing.T) {
		assert.True(t, s.Matches("nardis.wav"))
		assert.True(t, s.Matches("file:///x/nardis.wav"))
		assert.False(t, s.Matches("https://example.com/a.mp3"))
		assert.False(t, s.Matches(""))
	})

	t.Run("relative to root", func(t *testing.T) {
		asset, err := s.Resolve(ctx, "nardis.wav")
		require.NoError(t, err)
		d, err := asset.Duration()
		require.NoError(t, err)
		assert.Equal(t, 500*time.Millisecond, d)
	})

	t.Run("absolute and file URL", func(t *testing.T) {
		_, err := s.Resolve(ctx, abs)
		require.NoError(t, err)
		_, err = s.Resolve(ctx, "file://"+filepath.ToSlash(abs))
		require.NoError(t, err)
	})

	t.Run("metadata", func(t *testing.T) {
		var fields []media.Field
		require.NoError(t, s.ReadMetadata(ctx, "nardis.wav", func(f media.Field) {
			fields = append(fields, f)
		}))
		assert.Equal(t, []media.Field{
			{Key: media.FieldTitle, Text: "Nardis"},
			{Key: media.FieldAlbum, Text: "Explorations"},
			{Key: media.FieldArtist, Text: "Bill Evans"},
		}, fields)
	})

	t.Run("untagged emits nothing", func(t *testing.T) {
		writeFile(t, root, "plain.wav", wavBytes(t, 100*time.Millisecond))
		called := false
		require.NoError(t, s.ReadMetadata(ctx, "plain.wav", func(media.Field) { called = true }))
		assert.False(t, called)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := s.Resolve(ctx, "notes.txt")
		assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := s.Resolve(ctx, "missing.wav")
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Resolve(cctx, "nardis.wav")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFileSource_MaxBytes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.wav", wavBytes(t, time.Second))

	s, err := NewFileSource(map[string]any{"root": root, "max_bytes": 1024})
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), "a.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestNewFileSource_Invalid(t *testing.T) {
	_, err := NewFileSource(map[string]any{"root": filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "x", nil)
	_, err = NewFileSource(map[string]any{"root": file})
	assert.Error(t, err)

	_, err = NewFileSource(map[string]any{"max_bytes": -1})
	assert.Error(t, err)
}

func newAudioServer(t *testing.T, data []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "jukebox-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/song.wav", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPSource(t *testing.T) {
	data := append(wavBytes(t, time.Second), id3v1("Peri's Scope", "Bill Evans", "Portrait in Jazz")...)
	srv, hits := newAudioServer(t, data)

	s, err := NewHTTPSource(map[string]any{"user_agent": "jukebox-test", "cache_entries": 1})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("content type", func(t *testing.T) {
		asset, err := s.Resolve(ctx, srv.URL+"/stream")
		require.NoError(t, err)
		d, err := asset.Duration()
		require.NoError(t, err)
		assert.Equal(t, time.Second, d)
		assert.Equal(t, srv.URL+"/stream", asset.Locator())
	})

	t.Run("metadata shares the download", func(t *testing.T) {
		before := hits.Load()
		var title string
		require.NoError(t, s.ReadMetadata(ctx, srv.URL+"/stream", func(f media.Field) {
			if f.Key == media.FieldTitle {
				title = f.Text
			}
		}))
		assert.Equal(t, "Peri's Scope", title)
		assert.Equal(t, before, hits.Load())
	})

	t.Run("eviction", func(t *testing.T) {
		before := hits.Load()
		_, err := s.Resolve(ctx, srv.URL+"/song.wav")
		require.NoError(t, err)
		_, err = s.Resolve(ctx, srv.URL+"/stream")
		require.NoError(t, err)
		assert.Equal(t, before+2, hits.Load())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Resolve(ctx, srv.URL+"/missing.wav")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("matches", func(t *testing.T) {
		assert.True(t, s.Matches("http://example.com/a.mp3"))
		assert.True(t, s.Matches("https://example.com/a.mp3"))
		assert.False(t, s.Matches("/a.mp3"))
		assert.False(t, s.Matches("spotify:track:abc"))
	})
}

func TestHTTPSource_MaxBytes(t *testing.T) {
	srv, _ := newAudioServer(t, wavBytes(t, time.Second))

	s, err := NewHTTPSource(map[string]any{"max_bytes": 512, "user_agent": "jukebox-test"})
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), srv.URL+"/stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSource(nil)
	require.NoError(t, err)
	data, ct, err := s.Fetch(context.Background(), srv.URL+"/cover")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "image/png", ct)
}

type stubSource struct {
	name   string
	prefix string
	calls  int
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Matches(locator string) bool {
	return len(locator) >= len(s.prefix) && locator[:len(s.prefix)] == s.prefix
}
func (s *stubSource) Resolve(_ context.Context, locator string) (media.Asset, error) {
	s.calls++
	return nil, errors.Newf("%s cannot resolve %s", s.name, locator)
}
func (s *stubSource) ReadMetadata(_ context.Context, _ string, emit func(media.Field)) error {
	s.calls++
	emit(media.Field{Key: media.FieldTitle, Text: s.name})
	return nil
}

func TestRouter(t *testing.T) {
	a := &stubSource{name: "a", prefix: "x:"}
	b := &stubSource{name: "b", prefix: "x:y"}
	r := NewRouter(a, b)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "x:y/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a source")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)

	var title string
	require.NoError(t, r.ReadMetadata(ctx, "x:1", func(f media.Field) { title = f.Text }))
	assert.Equal(t, "a", title)

	_, err = r.Resolve(ctx, "z:1")
	assert.True(t, errors.Is(err, ErrUnsupportedLocator))
	err = r.ReadMetadata(ctx, "z:1", func(media.Field) {})
	assert.True(t, errors.Is(err, ErrUnsupportedLocator))
}

func TestNewRouterFromConfig(t *testing.T) {
	t.Run("file and http", func(t *testing.T) {
		r, err := NewRouterFromConfig([]config.SourceConfig{
			{Type: "http", Settings: map[string]any{"timeout_sec": 5}},
			{Type: "file"},
		})
		require.NoError(t, err)
		require.Len(t, r.Sources(), 2)
		assert.Equal(t, "http", r.Sources()[0].Name())
		assert.Equal(t, "file", r.Sources()[1].Name())
	})

	t.Run("spotify", func(t *testing.T) {
		r, err := NewRouterFromConfig([]config.SourceConfig{
			{Type: "spotify", Settings: map[string]any{"client_id": "a", "client_secret": "b"}},
		})
		require.NoError(t, err)
		assert.True(t, r.Sources()[0].Matches("spotify:track:abc"))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := NewRouterFromConfig(nil)
		assert.Error(t, err)

		_, err = NewRouterFromConfig([]config.SourceConfig{{Type: "ftp"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported source type")

		_, err = NewRouterFromConfig([]config.SourceConfig{{Type: "spotify"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "type spotify")
	})

	assert.Equal(t, []string{"file", "http", "spotify"}, Types())
}
