package pull

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/core/fakes"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flvURL = "https://x/stream.flv"

func newSession(t *testing.T, players *fakes.PlayerFactory) *Session {
	t.Helper()
	s, err := New(Options{
		Room:    "room-1",
		Kind:    domain.TransportPackagedProgressive,
		URL:     flvURL,
		Players: players,
	})
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	players := &fakes.PlayerFactory{}
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{name: "peer kind", opts: Options{Kind: domain.TransportPeerToPeer, URL: flvURL, Players: players}},
		{name: "missing url", opts: Options{Kind: domain.TransportPackagedSegmented, Players: players}, want: core.ErrNoMediaURL},
		{name: "no players", opts: Options{Kind: domain.TransportPackagedSegmented, URL: "u"}, want: core.ErrUnsupportedPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestStartSizesSurface(t *testing.T) {
	players := &fakes.PlayerFactory{Size: domain.Size{Width: 1280, Height: 720}}
	s := newSession(t, players)

	size, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 1280, Height: 720}, size)
	require.NotNil(t, s.Surface())
	assert.Equal(t, size, s.Surface().Size())

	again, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, size, again)
	require.Len(t, players.Players(), 1)
	assert.Equal(t, []string{flvURL}, players.Last().URLs())
}

func TestResizeWithoutRestart(t *testing.T) {
	players := &fakes.PlayerFactory{Size: domain.Size{Width: 640, Height: 360}}
	s := newSession(t, players)
	resized := make(chan domain.Size, 1)
	s.OnResize(func(size domain.Size) { resized <- size })

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	surf := s.Surface()

	players.Last().EmitSize(domain.Size{Width: 1920, Height: 1080})
	select {
	case got := <-resized:
		assert.Equal(t, domain.Size{Width: 1920, Height: 1080}, got)
	case <-time.After(time.Second):
		t.Fatal("no resize")
	}
	assert.Same(t, surf, s.Surface())
	assert.Equal(t, 1080, surf.Size().Height)
	assert.Len(t, players.Players(), 1)
}

func TestStartFailure(t *testing.T) {
	players := &fakes.PlayerFactory{Prepare: func(p *fakes.Player) { p.Err = errors.New("404") }}
	s := newSession(t, players)

	_, err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)
	assert.Nil(t, s.Surface())
	assert.Equal(t, 1, players.Last().StopCount())
	assert.False(t, s.Started())
}

func TestStopWhileStartingIsStale(t *testing.T) {
	gate := make(chan struct{})
	players := &fakes.PlayerFactory{
		Size:    domain.Size{Width: 1280, Height: 720},
		Prepare: func(p *fakes.Player) { p.Gate = gate },
	}
	s := newSession(t, players)

	done := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return len(players.Players()) == 1 && s.Started() }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	close(gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrStale)
	case <-time.After(time.Second):
		t.Fatal("start did not return")
	}
	assert.Nil(t, s.Surface())
	assert.Equal(t, 1, players.Last().StopCount())
}

func TestStopIdempotent(t *testing.T) {
	players := &fakes.PlayerFactory{Size: domain.Size{Width: 1, Height: 1}}
	s := newSession(t, players)
	_, err := s.Start(context.Background())
	require.NoError(t, err)
	surf := s.Surface()

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.True(t, surf.Closed())
	assert.Equal(t, 1, players.Last().StopCount())

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrStale)
}

func TestMuteForwardsToPlayer(t *testing.T) {
	players := &fakes.PlayerFactory{Size: domain.Size{Width: 1, Height: 1}}
	s := newSession(t, players)
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	s.SetMuted(true)
	assert.True(t, players.Last().Muted())
	assert.True(t, s.Surface().Muted())
	s.SetMuted(false)
	assert.False(t, players.Last().Muted())
}
