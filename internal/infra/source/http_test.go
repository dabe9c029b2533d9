package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/domain/media"
	"github.com/osa030/jukebox/internal/infra/audio"
)

// id3v2 builds a leading ID3v2.3 tag holding a title frame.
func id3v2(title string) []byte {
	text := append([]byte{0}, title...)
	var frames bytes.Buffer
	frames.WriteString("TIT2")
	_ = binary.Write(&frames, binary.BigEndian, uint32(len(text)))
	frames.Write([]byte{0, 0})
	frames.Write(text)

	n := frames.Len()
	header := []byte{
		'I', 'D', '3', 3, 0, 0,
		byte(n>>21) & 0x7f, byte(n>>14) & 0x7f, byte(n>>7) & 0x7f, byte(n) & 0x7f,
	}
	return append(header, frames.Bytes()...)
}

type countingWriter struct {
	http.ResponseWriter
	n *atomic.Int64
}

func (w countingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.n.Add(int64(n))
	return n, err
}

func TestHTTPSource_UnloadedQueueReadsTagPrefixes(t *testing.T) {
	const (
		items     = 20
		size      = 1 << 20
		prefix    = 64 << 10
		parallel  = 3
		titleFmt  = "Track %d"
		pathFmt   = "/track-%d.mp3"
		debounce  = 10 * time.Millisecond
		handlerAt = 5 * time.Millisecond
	)

	var (
		requests, ranged  atomic.Int32
		active, maxActive atomic.Int32
		served            atomic.Int64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(handlerAt)

		var i int
		_, _ = fmt.Sscanf(r.URL.Path, pathFmt, &i)
		body := make([]byte, size)
		copy(body, id3v2(fmt.Sprintf(titleFmt, i)))
		http.ServeContent(countingWriter{w, &served}, r, "track.mp3", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSource(map[string]any{"metadata_bytes": prefix, "metadata_concurrency": parallel})
	require.NoError(t, err)
	router := NewRouter(s)

	queue := make([]*media.Item, items)
	for i := range queue {
		queue[i] = media.NewItem(srv.URL+fmt.Sprintf(pathFmt, i), "")
	}
	c, err := playback.NewController(
		playback.Config{MetadataDebounce: debounce},
		playback.Deps{Engine: audio.NewNullEngine(), Loader: router, Metadata: router},
		queue,
	)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		for i, item := range queue {
			if item.Meta().Title != fmt.Sprintf(titleFmt, i) {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, playback.StateReady, c.State())
	assert.EqualValues(t, items, requests.Load())
	assert.EqualValues(t, items, ranged.Load(), "every request should be a range request")
	assert.LessOrEqual(t, served.Load(), int64(items*prefix))
	assert.LessOrEqual(t, maxActive.Load(), int32(parallel))
	for _, item := range queue {
		assert.Equal(t, media.LoadStateUnloaded, item.LoadState())
	}
}

func TestHTTPSource_MetadataPrefixIgnoredRange(t *testing.T) {
	body := append(id3v2("Blue in Green"), make([]byte, 1<<20)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Range is ignored; the whole body is offered.
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSource(map[string]any{"metadata_bytes": 4096})
	require.NoError(t, err)

	var title string
	require.NoError(t, s.ReadMetadata(context.Background(), srv.URL+"/a.mp3", func(f media.Field) {
		if f.Key == media.FieldTitle {
			title = f.Text
		}
	}))
	assert.Equal(t, "Blue in Green", title)
	assert.Nil(t, s.cached(srv.URL+"/a.mp3"), "a prefix must not be cached as the body")
}

func TestHTTPSource_ConcurrentFetchesShareOneRequest(t *testing.T) {
	data := append(wavBytes(t, time.Second), id3v1("So What", "Miles Davis", "Kind of Blue")...)

	var hits, ranged atomic.Int32
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		entered <- struct{}{}
		<-release
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSource(nil)
	require.NoError(t, err)
	ctx := context.Background()
	locator := srv.URL + "/so-what.wav"

	var wg sync.WaitGroup
	resolved := make(chan error, 3)
	resolve := func() {
		defer wg.Done()
		_, err := s.Resolve(ctx, locator)
		resolved <- err
	}

	wg.Add(1)
	go resolve()
	<-entered

	// The download is in flight: later loads and metadata reads join it.
	wg.Add(2)
	go resolve()
	go resolve()

	var artist string
	metaDone := make(chan error, 1)
	go func() {
		metaDone <- s.ReadMetadata(ctx, locator, func(f media.Field) {
			if f.Key == media.FieldArtist {
				artist = f.Text
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(resolved)
	for err := range resolved {
		assert.NoError(t, err)
	}
	require.NoError(t, <-metaDone)

	assert.Equal(t, "Miles Davis", artist)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, ranged.Load())
}
