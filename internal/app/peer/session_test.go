package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/roomcast/internal/app/tracks"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/core/fakes"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	factory *fakes.TransportFactory
	channel *fakes.Channel
	router  *tracks.Router
	renders *fakes.RendererFactory
	session *Session
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		factory: &fakes.TransportFactory{},
		channel: fakes.NewChannel(),
		renders: &fakes.RendererFactory{},
	}
	f.router = tracks.NewRouter(tracks.Options{Renderers: f.renders})
	opts := Options{
		Room:       "room-1",
		Self:       "viewer",
		Receiver:   "publisher",
		Direction:  domain.DirectionSendRecv,
		Transports: f.factory,
		Signal:     f.channel,
		Router:     f.router,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(opts)
	require.NoError(t, err)
	f.session = s
	return f
}

func offer(n int) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 remote-%d", n)}
}

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.1 %d typ host", n, 5000+n)}
}

func TestOpenUnsupportedPlatform(t *testing.T) {
	_, err := Open(Options{Room: "r", Transports: &fakes.TransportFactory{Unsupported: true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnsupportedPlatform)

	_, err = Open(Options{Room: "r"})
	assert.ErrorIs(t, err, core.ErrUnsupportedPlatform)
}

func TestOpenIsLazy(t *testing.T) {
	f := newFixture(t, nil)
	assert.Empty(t, f.factory.Transports())
	assert.Equal(t, domain.PeerStateNew, f.session.State())

	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.Len(t, f.factory.Transports(), 1)
	assert.Equal(t, domain.PeerStateNegotiating, f.session.State())
	assert.Equal(t, domain.DirectionSendRecv, f.factory.Last().Config.Direction)
}

func TestCreateOfferRestartsICEOnRenegotiation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, f.session.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}))

	_, err = f.session.CreateOffer()
	require.NoError(t, err)
	offers := f.factory.Last().Offers()
	require.Len(t, offers, 2)
	assert.False(t, offers[0].ICERestart)
	assert.True(t, offers[1].ICERestart)
}

func TestNegotiationError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	f.factory.Last().OfferErr = errors.New("boom")

	_, err = f.session.CreateOffer()
	assert.ErrorIs(t, err, core.ErrNegotiation)
	var op *core.OpError
	require.ErrorAs(t, err, &op)
	assert.Equal(t, "createOffer", op.Op)
	assert.False(t, f.session.Closed(), "no auto close or retry")
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.session.AddRemoteCandidate(candidate(i)))
	}
	assert.Equal(t, 5, f.session.Pending())

	require.NoError(t, f.session.SetRemoteDescription(offer(1)))
	require.NoError(t, f.session.AddRemoteCandidate(candidate(5)))
	// reapplying the same description must not flush twice
	require.NoError(t, f.session.SetRemoteDescription(offer(1)))

	got := f.factory.Last().Candidates()
	require.Len(t, got, 6)
	for i, c := range got {
		assert.Equal(t, candidate(i), c)
	}
	assert.Zero(t, f.session.Pending())
	assert.Len(t, f.factory.Last().Remote(), 1)
}

func TestDescriptionsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	sd, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, f.session.SetLocalDescription(sd))
	require.NoError(t, f.session.SetLocalDescription(sd))
	assert.Len(t, f.factory.Last().Local(), 1)
}

func TestOperationsAfterCloseAreStale(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, f.session.Close())

	assert.ErrorIs(t, f.session.SetRemoteDescription(offer(1)), core.ErrStale)
	assert.ErrorIs(t, f.session.SetLocalDescription(offer(2)), core.ErrStale)
	assert.ErrorIs(t, f.session.AddRemoteCandidate(candidate(0)), core.ErrStale)
	_, err = f.session.CreateOffer()
	assert.ErrorIs(t, err, core.ErrStale)
	_, err = f.session.CreateAnswer()
	assert.ErrorIs(t, err, core.ErrStale)
	assert.Nil(t, f.session.ApplyQuality(domain.QualityProfile{MaxBitrateKbps: 100}))
}

func TestCloseDuringInFlightOffer(t *testing.T) {
	f := newFixture(t, nil)
	f.factory.Configure = func(tr *fakes.Transport) {
		tr.BeforeOffer = func() { _ = f.session.Close() }
	}
	_, err := f.session.CreateOffer()
	assert.ErrorIs(t, err, core.ErrStale)
	assert.True(t, f.session.Closed())
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local",
		fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local"),
		fakes.NewLocalTrack("mic", domain.TrackKindAudio, "local"),
	)))
	tr := f.factory.Last()
	require.Len(t, tr.Senders(), 2)

	var states []domain.PeerState
	f.session.OnStateChange(func(s domain.PeerState) { states = append(states, s) })

	require.NoError(t, f.session.Close())
	first := f.session.State()
	require.NoError(t, f.session.Close())

	assert.Equal(t, first, f.session.State())
	assert.Equal(t, domain.PeerStateClosed, first)
	assert.Empty(t, tr.Senders())
	assert.Equal(t, 1, tr.CloseCount())
	assert.Empty(t, f.session.Senders())
	assert.Equal(t, []domain.PeerState{domain.PeerStateClosed}, states)
}

func TestCandidateRelay(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	tr := f.factory.Last()

	mid := "0"
	idx := uint16(0)
	tr.EmitCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx})
	tr.EmitCandidate(nil)

	sent := f.channel.SentOf(domain.EnvelopeCandidate)
	require.Len(t, sent, 1)
	env := sent[0]
	assert.Equal(t, domain.RoomID("room-1"), env.RoomID)
	assert.Equal(t, domain.PeerID("viewer"), env.Sender)
	assert.Equal(t, domain.PeerID("publisher"), env.Receiver)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "candidate:1", payload["candidate"])
	assert.Equal(t, "0", payload["sdpMid"])
	assert.Equal(t, float64(0), payload["sdpMLineIndex"])
	assert.Equal(t, "viewer", payload["sender"])
	assert.Equal(t, "publisher", payload["receiver"])
	assert.Equal(t, "room-1", payload["roomId"])

	c, err := env.Candidate()
	require.NoError(t, err)
	assert.Equal(t, "candidate:1", c.Candidate)
}

func TestCandidateDroppedWithoutChannel(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	f.channel.SetUnavailable(true)

	f.factory.Last().EmitCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:1"})
	assert.Empty(t, f.channel.Sent())
	assert.False(t, f.session.Closed())
}

func TestRemoteTracksRouted(t *testing.T) {
	f := newFixture(t, nil)
	local := fakes.NewLocalTrack("local-cam", domain.TrackKindVideo, "local")
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local", local)))
	tr := f.factory.Last()

	cam := fakes.NewTrack("cam", domain.TrackKindVideo, "remote")
	mic := fakes.NewTrack("mic", domain.TrackKindAudio, "remote")
	stream := fakes.NewStream("remote", cam, mic)
	tr.EmitTrack(cam, stream)
	tr.EmitTrack(mic, stream)
	tr.EmitTrack(local, fakes.NewStream("local", local))

	assert.Equal(t, 2, f.router.Len())
	_, ok := f.router.Lookup("local-cam")
	assert.False(t, ok)

	require.NoError(t, f.session.Close())
	assert.Zero(t, f.router.Len())
	assert.True(t, f.renders.For("cam")[0].Closed())
}

func TestStateObservers(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.CreateOffer()
	require.NoError(t, err)

	var got []domain.PeerState
	f.session.OnStateChange(func(s domain.PeerState) { got = append(got, s) })
	tr := f.factory.Last()
	tr.EmitState(domain.PeerStateConnected)
	tr.EmitState(domain.PeerStateConnected)
	tr.EmitState(domain.PeerStateFailed)

	assert.Equal(t, []domain.PeerState{domain.PeerStateConnected, domain.PeerStateFailed}, got)
	assert.False(t, f.session.Closed())
}

func TestApplyQualityFieldIndependent(t *testing.T) {
	f := newFixture(t, nil)
	cam := fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local")
	cam.MaxHeight = 4320
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local", cam)))

	results := f.session.ApplyQuality(domain.QualityProfile{
		ResolutionHeight: 9999,
		MaxBitrateKbps:   1500,
		MaxFramerateFps:  domain.Unset,
	})
	require.Len(t, results, 2)
	for _, r := range results {
		switch r.Field {
		case domain.FieldResolution:
			assert.ErrorIs(t, r.Err, core.ErrConstraintApplication)
		case domain.FieldMaxBitrate:
			assert.NoError(t, r.Err)
		}
	}
	assert.Equal(t, 1500, f.session.Quality().MaxBitrateKbps)
	assert.Equal(t, domain.Unset, f.session.Quality().ResolutionHeight)
}

func TestInitialQualityAppliedOnAttach(t *testing.T) {
	p := domain.QualityProfile{ResolutionHeight: 360, MaxBitrateKbps: domain.Unset, MaxFramerateFps: domain.Unset}
	f := newFixture(t, func(o *Options) { o.Quality = &p })
	cam := fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local")
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local", cam)))
	assert.Equal(t, 360, cam.Constraints().Height)
}

func TestAttachLocalStreamReplacesInPlace(t *testing.T) {
	f := newFixture(t, nil)
	cam := fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local")
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local", cam)))
	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, f.session.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local"}))
	tr := f.factory.Last()
	first := tr.Senders()[0]

	screen := fakes.NewLocalTrack("screen", domain.TrackKindVideo, "local-2")
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local-2", screen)))
	senders := tr.Senders()
	require.Len(t, senders, 1)
	assert.Same(t, first, senders[0])
	assert.Equal(t, "screen", senders[0].Track().ID())
	assert.Equal(t, 1, first.(*fakes.Sender).Replaced())
	assert.False(t, f.session.NegotiationNeeded())
}

func TestAttachLocalStreamAddingSenderNeedsNegotiation(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local",
		fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local"))))
	assert.False(t, f.session.NegotiationNeeded(), "nothing offered yet")

	_, err := f.session.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, f.session.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local"}))
	require.NoError(t, f.session.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}))

	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local",
		fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local"),
		fakes.NewLocalTrack("mic", domain.TrackKindAudio, "local"))))
	assert.Len(t, f.factory.Last().Senders(), 2)
	require.True(t, f.session.NegotiationNeeded())

	_, err = f.session.CreateOffer()
	require.NoError(t, err)
	offers := f.factory.Last().Offers()
	require.Len(t, offers, 2)
	assert.False(t, offers[1].ICERestart, "track change is not an ICE restart")
	assert.False(t, f.session.NegotiationNeeded())
}

func TestAttachLocalStreamFallsBackWhenReplaceFails(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local",
		fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local"))))
	tr := f.factory.Last()
	old := tr.Senders()[0].(*fakes.Sender)
	old.ReplaceErr = errors.New("codec mismatch")

	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local-2",
		fakes.NewLocalTrack("screen", domain.TrackKindVideo, "local-2"))))
	senders := tr.Senders()
	require.Len(t, senders, 1)
	assert.NotSame(t, old, senders[0])
	assert.Equal(t, "screen", senders[0].Track().ID())
}

func TestRecvOnlyDoesNotSend(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Direction = domain.DirectionRecvOnly })
	require.NoError(t, f.session.AttachLocalStream(fakes.NewLocalStream("local",
		fakes.NewLocalTrack("cam", domain.TrackKindVideo, "local"))))
	assert.Empty(t, f.factory.Last().Senders())
}

const hintedSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=content:slides\r\n" +
	"a=msid:stream-a screen-track\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=content:main\r\n" +
	"a=msid:stream-a cam-track\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:2\r\n" +
	"a=content:main\r\n" +
	"a=msid:stream-a mic-track\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestRoleHints(t *testing.T) {
	hints, err := roleHints(hintedSDP)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.TrackRole{
		"screen-track": domain.RoleScreen,
		"cam-track":    domain.RoleCamera,
	}, hints)

	_, err = roleHints("not an sdp")
	assert.Error(t, err)
}

func TestRemoteDescriptionFeedsRoleHints(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: hintedSDP}))

	screen := fakes.NewTrack("screen-track", domain.TrackKindVideo, "stream-a")
	f.factory.Last().EmitTrack(screen, fakes.NewStream("stream-a", screen))
	s, ok := f.router.Lookup("screen-track")
	require.True(t, ok)
	assert.Equal(t, domain.RoleScreen, s.Role())
}
