package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
sources:
  - type: file
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 100*time.Millisecond, cfg.Playback.ProgressInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.MetadataDebounce())
	assert.Equal(t, time.Duration(0), cfg.Playback.PreviousRestartThreshold())
	assert.Equal(t, 1.0, cfg.Playback.InitialVolume())
	assert.False(t, cfg.Playback.DisablePreload)
	assert.Equal(t, "speaker", cfg.Audio.Output)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Audio.Buffer())
	assert.Equal(t, time.Second, cfg.Audio.StallCheck())
	assert.Equal(t, []string{"file"}, cfg.SourceTypes())
	assert.Empty(t, cfg.Admin.Token)
}

func TestParse_Values(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: "127.0.0.1:9000"
  hooks:
    on_started: ["echo started"]
admin:
  token: secret
playback:
  progress_interval_ms: 250
  metadata_debounce_ms: 200
  previous_restart_threshold_ms: 3000
  volume: 0
  disable_preload: true
audio:
  output: "null"
sources:
  - type: file
    settings:
      root: /music
  - type: http
    settings:
      timeout_sec: 5
queue:
  items: ["a.mp3", "b.mp3"]
  autoplay: true
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"echo started"}, cfg.Server.Hooks.OnStarted)
	assert.Equal(t, "secret", cfg.Admin.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.Playback.ProgressInterval())
	assert.Equal(t, 3*time.Second, cfg.Playback.PreviousRestartThreshold())
	assert.Equal(t, 0.0, cfg.Playback.InitialVolume())
	assert.True(t, cfg.Playback.DisablePreload)
	assert.Equal(t, "null", cfg.Audio.Output)
	assert.Equal(t, "/music", cfg.Sources[0].Settings["root"])
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, cfg.Queue.Items)
	assert.True(t, cfg.Queue.Autoplay)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no sources",
			content: "server:\n  addr: \":8080\"\n",
			errMsg:  "Sources",
		},
		{
			name:    "unknown source type",
			content: "sources:\n  - type: ftp\n",
			errMsg:  "Type",
		},
		{
			name:    "progress interval too short",
			content: "playback:\n  progress_interval_ms: 10\nsources:\n  - type: file\n",
			errMsg:  "ProgressIntervalMs",
		},
		{
			name:    "progress interval too long",
			content: "playback:\n  progress_interval_ms: 1000\nsources:\n  - type: file\n",
			errMsg:  "ProgressIntervalMs",
		},
		{
			name:    "volume out of range",
			content: "playback:\n  volume: 1.5\nsources:\n  - type: file\n",
			errMsg:  "Volume",
		},
		{
			name:    "unknown output",
			content: "audio:\n  output: alsa\nsources:\n  - type: file\n",
			errMsg:  "Output",
		},
		{
			name:    "missing playlist",
			content: "queue:\n  playlist: /does/not/exist.m3u\nsources:\n  - type: file\n",
			errMsg:  "queue playlist",
		},
		{
			name:    "spotify playlist without spotify source",
			content: "queue:\n  spotify_playlist: spotify:playlist:abc\nsources:\n  - type: file\n",
			errMsg:  "requires a spotify source",
		},
		{
			name:    "malformed yaml",
			content: "sources: [",
			errMsg:  "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JUKEBOX_ADMIN_TOKEN", "from-env")
	t.Setenv("SPOTIFY_CLIENT_ID", "env-client")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admin:
  token: from-file
sources:
  - type: file
  - type: spotify
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, "env-client", cfg.Sources[1].Settings["client_id"])
	assert.Equal(t, "env-secret", cfg.Sources[1].Settings["client_secret"])
	assert.Nil(t, cfg.Sources[0].Settings)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
