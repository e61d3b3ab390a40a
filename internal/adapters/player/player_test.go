package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amfStr(s string) []byte {
	b := []byte{amfString, 0, 0}
	binary.BigEndian.PutUint16(b[1:], uint16(len(s)))
	return append(b, s...)
}

func amfKey(s string) []byte {
	return amfStr(s)[1:]
}

func amfNum(v float64) []byte {
	b := make([]byte, 9)
	b[0] = amfNumber
	binary.BigEndian.PutUint64(b[1:], math.Float64bits(v))
	return b
}

// onMetaData builds a script tag body as encoders emit it.
func onMetaData(width, height float64) []byte {
	var b bytes.Buffer
	b.Write(amfStr("onMetaData"))
	b.Write([]byte{amfECMAArray, 0, 0, 0, 4})
	b.Write(amfKey("duration"))
	b.Write(amfNum(0))
	b.Write(amfKey("width"))
	b.Write(amfNum(width))
	b.Write(amfKey("height"))
	b.Write(amfNum(height))
	b.Write(amfKey("encoder"))
	b.Write(amfStr("Lavf"))
	b.Write(amfKey("stereo"))
	b.Write([]byte{amfBoolean, 1})
	b.Write(amfKey("keyframes"))
	b.Write([]byte{amfObject})
	b.Write(amfKey("times"))
	b.Write([]byte{amfStrictArray, 0, 0, 0, 1})
	b.Write(amfNum(0))
	b.Write([]byte{0, 0, amfObjectEnd})
	b.Write([]byte{0, 0, amfObjectEnd})
	return b.Bytes()
}

func flvHeader() []byte {
	return []byte{'F', 'L', 'V', 1, 5, 0, 0, 0, 9}
}

func flvTag(tagType byte, data []byte) []byte {
	b := make([]byte, 4+flvTagHeaderLen, 4+flvTagHeaderLen+len(data))
	b[4] = tagType
	b[5], b[6], b[7] = byte(len(data)>>16), byte(len(data)>>8), byte(len(data))
	return append(b, data...)
}

func TestMetaDataSize(t *testing.T) {
	w, h, ok, err := metaDataSize(onMetaData(1920, 1080))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, ok, err = metaDataSize(append(amfStr("onCuePoint"), amfNum(1)...))
	require.NoError(t, err)
	assert.False(t, ok)

	body := onMetaData(640, 360)
	_, _, _, err = metaDataSize(body[:len(body)-5])
	assert.ErrorIs(t, err, errShortAMF)

	_, _, _, err = metaDataSize(append(amfStr("onMetaData"), 0x42))
	assert.Error(t, err)
}

func TestMetaDataObjectForm(t *testing.T) {
	var b bytes.Buffer
	b.Write(amfStr("onMetaData"))
	b.WriteByte(amfObject)
	b.Write(amfKey("height"))
	b.Write(amfNum(720))
	b.Write(amfKey("width"))
	b.Write(amfNum(1280))
	b.Write(amfKey("creator"))
	b.Write([]byte{amfNull})
	b.Write([]byte{0, 0, amfObjectEnd})

	w, h, ok, err := metaDataSize(b.Bytes())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Size
		ok   bool
	}{
		{"1280x720", domain.Size{Width: 1280, Height: 720}, true},
		{" 640X360 ", domain.Size{Width: 640, Height: 360}, true},
		{"", domain.Size{}, false},
		{"1280", domain.Size{}, false},
		{"0x720", domain.Size{}, false},
		{"axb", domain.Size{}, false},
	}
	for _, tt := range tests {
		got, ok := parseResolution(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

const (
	master720 = "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720\nmid.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=96000,CODECS=\"mp4a.40.2\"\naudio.m3u8\n"
	master1080 = "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080\nhigh.m3u8\n"
	mediaPlaylist = "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:4.0,\nseg0.ts\n"
)

func playlistServer(t *testing.T, body *atomic.Value) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live.m3u8" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(body.Load().(string)))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHLSStartAndResize(t *testing.T) {
	var body atomic.Value
	body.Store(master720)
	base := playlistServer(t, &body)

	p := NewHLS(Options{PollInterval: 10 * time.Millisecond})
	defer p.Stop()

	size, err := p.Start(context.Background(), base+"/live.m3u8")
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 1280, Height: 720}, size)

	body.Store(master1080)
	select {
	case got := <-p.Metadata():
		assert.Equal(t, domain.Size{Width: 1920, Height: 1080}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no size change reported")
	}
}

func TestHLSMediaPlaylist(t *testing.T) {
	var body atomic.Value
	body.Store(mediaPlaylist)
	base := playlistServer(t, &body)

	p := NewHLS(Options{})
	defer p.Stop()
	size, err := p.Start(context.Background(), base+"/live.m3u8")
	require.NoError(t, err)
	assert.True(t, size.IsZero())
}

func TestHLSFailures(t *testing.T) {
	var body atomic.Value
	body.Store("#EXTM3U\n")
	base := playlistServer(t, &body)

	_, err := NewHLS(Options{}).Start(context.Background(), base+"/missing.m3u8")
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)

	_, err = NewHLS(Options{}).Start(context.Background(), base+"/live.m3u8")
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewHLS(Options{}).Start(ctx, base+"/live.m3u8")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrPlaybackFailed)
}

func TestStartAfterStop(t *testing.T) {
	p := NewHLS(Options{})
	require.NoError(t, p.Stop())
	_, err := p.Start(context.Background(), "http://127.0.0.1:1/x.m3u8")
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)
}

// flvServer streams the header and first tags, then sends each value of
// more as a metadata tag until the client goes away.
func flvServer(t *testing.T, first []byte, more <-chan domain.Size) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
		_, _ = w.Write(first)
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case s := <-more:
				_, _ = w.Write(flvTag(flvTagScript, onMetaData(float64(s.Width), float64(s.Height))))
				w.(http.Flusher).Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/live.flv"
}

func TestFLVStartAndResize(t *testing.T) {
	var first bytes.Buffer
	first.Write(flvHeader())
	first.Write(flvTag(9, []byte{0x17, 0, 0, 0, 0}))
	first.Write(flvTag(flvTagScript, append(amfStr("onCuePoint"), amfNum(1)...)))
	first.Write(flvTag(flvTagScript, onMetaData(1280, 720)))
	first.Write(flvTag(8, []byte{0xaf, 1}))

	more := make(chan domain.Size)
	url := flvServer(t, first.Bytes(), more)

	p := NewFLV(Options{})
	size, err := p.Start(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 1280, Height: 720}, size)

	more <- domain.Size{Width: 1280, Height: 720}
	more <- domain.Size{Width: 854, Height: 480}
	select {
	case got := <-p.Metadata():
		assert.Equal(t, domain.Size{Width: 854, Height: 480}, got, "unchanged size is not reported")
	case <-time.After(2 * time.Second):
		t.Fatal("no size change reported")
	}

	require.NoError(t, p.Stop())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-p.Metadata():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFLVNoMetadataTimesOut(t *testing.T) {
	var first bytes.Buffer
	first.Write(flvHeader())
	first.Write(flvTag(9, []byte{0x17, 0, 0, 0, 0}))
	url := flvServer(t, first.Bytes(), nil)

	p := NewFLV(Options{RequestTimeout: 50 * time.Millisecond})
	_, err := p.Start(context.Background(), url)
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)
}

func TestFLVRejectsOtherContainers(t *testing.T) {
	url := flvServer(t, []byte("#EXTM3U\n#EXT-X-VERSION:3\n"), nil)
	_, err := NewFLV(Options{RequestTimeout: time.Second}).Start(context.Background(), url)
	assert.ErrorIs(t, err, core.ErrPlaybackFailed)
	assert.ErrorIs(t, err, errNotFLV)
}

func TestFactory(t *testing.T) {
	f := NewFactory(Options{})

	p, err := f.NewPlayer(domain.TransportPackagedSegmented)
	require.NoError(t, err)
	assert.IsType(t, &HLS{}, p)

	p, err = f.NewPlayer(domain.TransportPackagedProgressive)
	require.NoError(t, err)
	assert.IsType(t, &FLV{}, p)

	_, err = f.NewPlayer(domain.TransportRelayedPeer)
	assert.ErrorIs(t, err, core.ErrUnsupportedPlatform)
}

func TestMutedFlag(t *testing.T) {
	p := NewFLV(Options{})
	p.SetMuted(true)
	assert.True(t, p.Muted())
}
