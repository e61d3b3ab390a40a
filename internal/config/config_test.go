package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.Autoplay)
	assert.True(t, cfg.ReconnectOnFailure)
	assert.Equal(t, domain.DefaultQualityProfile(), cfg.Quality)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.STUNURLs)
	assert.Equal(t, 10*time.Second, cfg.Player.RequestTimeout)
	assert.Equal(t, 54*time.Second, cfg.Signal.PingPeriod)
	assert.Equal(t, int64(65536), cfg.Signal.ReadLimit)
}

const sample = `
mode: debug
room_id: from-file
autoplay: false
ice:
  stun_urls: ["stun:a:3478"]
  turn_urls: ["turn:b:3478"]
  turn_username: u
  turn_password: p
quality:
  max_bitrate_kbps: 1500
player:
  poll_interval: 2s
render:
  output_dir: /tmp/rec
signal:
  sender_burst: 7
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestFileValues(t *testing.T) {
	cfg, err := LoadFile(writeSample(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "from-file", cfg.RoomID)
	assert.False(t, cfg.Autoplay)
	assert.Equal(t, []string{"turn:b:3478"}, cfg.ICE.TURNURLs)
	assert.Equal(t, "u", cfg.ICE.Username)
	assert.Equal(t, domain.QualityProfile{
		MaxBitrateKbps:   1500,
		MaxFramerateFps:  domain.Unset,
		ResolutionHeight: domain.Unset,
	}, cfg.Quality)
	assert.Equal(t, 2*time.Second, cfg.Player.PollInterval)
	assert.Equal(t, "/tmp/rec", cfg.Render.OutputDir)
	assert.Equal(t, 7, cfg.Signal.SenderBurst)
}

func TestEnvAndFlagsOverride(t *testing.T) {
	t.Setenv("ROOMCAST_ROOM_ID", "from-env")
	t.Setenv("ROOMCAST_SIGNALING_URL", "ws://env/ws")
	t.Setenv("ROOMCAST_QUALITY_RESOLUTION_HEIGHT", "720")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("room", "", "")
	fs.Bool("autoplay", true, "")
	fs.String("signaling-url", "", "")
	require.NoError(t, fs.Parse([]string{"--room", "from-flag"}))

	cfg, err := LoadFile(writeSample(t), fs)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.RoomID)
	assert.Equal(t, "ws://env/ws", cfg.SignalingURL, "unchanged flags do not override")
	assert.False(t, cfg.Autoplay)
	assert.Equal(t, 720, cfg.Quality.ResolutionHeight)
}

func TestBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [unclosed"), 0o600))
	_, err := LoadFile(path, nil)
	assert.Error(t, err)
}
