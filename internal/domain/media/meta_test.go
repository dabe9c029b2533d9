package media

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayTitle(t *testing.T) {
	tests := []struct {
		name       string
		meta       Meta
		localTitle string
		locator    string
		expected   string
	}{
		{
			name:       "metadata title wins",
			meta:       Meta{Title: "Tagged"},
			localTitle: "Local",
			locator:    "/music/file.mp3",
			expected:   "Tagged",
		},
		{
			name:       "local title fallback",
			localTitle: "Local",
			locator:    "/music/file.mp3",
			expected:   "Local",
		},
		{
			name:     "path component fallback",
			locator:  "/music/file.mp3",
			expected: "file.mp3",
		},
		{
			name:     "url path component",
			locator:  "https://cdn.example.com/audio/track.ogg?sig=abc",
			expected: "track.ogg",
		},
		{
			name:     "opaque locator",
			locator:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			expected: "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DisplayTitle(tt.meta, tt.localTitle, tt.locator))
		})
	}
}

type fixedClock struct{ pos time.Duration }

func (c fixedClock) CurrentTime() (time.Duration, bool) { return c.pos, true }

func TestHandle_Position(t *testing.T) {
	h := NewHandle(&stubAsset{duration: time.Minute})

	pos, ok := h.Position()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), pos)

	h.Attach(fixedClock{pos: 7 * time.Second})
	pos, _ = h.Position()
	assert.Equal(t, 7*time.Second, pos)

	h.Detach()
	pos, _ = h.Position()
	assert.Equal(t, 7*time.Second, pos)
}

func TestDebouncer(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(40*time.Millisecond, func() { fired.Add(1) })

	for range 5 {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, d.Pending())

	d.Trigger()
	d.Stop()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	d.Trigger()
	assert.False(t, d.Pending())
}
