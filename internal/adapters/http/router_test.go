package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/roomcast/internal/app/orch"
	"github.com/dkeye/roomcast/internal/app/quality"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	room          domain.RoomID
	playErr       error
	renegotiate   error
	plays         int
	renegotiated  int
	applied       []domain.QualityProfile
	qualityResult []quality.Result
}

func (f *fakeController) Room() domain.RoomID { return f.room }

func (f *fakeController) Snapshot() orch.SessionInfo {
	return orch.SessionInfo{Room: f.room, State: orch.StateLivePull, Transport: domain.TransportPackagedSegmented}
}

func (f *fakeController) Play() error {
	f.plays++
	return f.playErr
}

func (f *fakeController) ApplyQuality(p domain.QualityProfile) []quality.Result {
	f.applied = append(f.applied, p)
	return f.qualityResult
}

func (f *fakeController) Renegotiate() error {
	f.renegotiated++
	return f.renegotiate
}

type fakeStore struct {
	room  domain.RoomID
	muted *bool
}

func (s *fakeStore) SetMuted(room domain.RoomID, muted bool) {
	s.room = room
	s.muted = &muted
}

func newRouter(ctl *fakeController, store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(Options{Mode: "test", Controller: ctl, Store: store, Gatherer: prometheus.NewRegistry()})
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSession(t *testing.T) {
	r := newRouter(&fakeController{room: "room-1"}, &fakeStore{})
	w := do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "room-1", info["room"])
	assert.Equal(t, string(orch.StateLivePull), info["state"])
	assert.Equal(t, "packagedSegmented", info["transport"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(&fakeController{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set(requestIDHeader, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}

func TestPlay(t *testing.T) {
	ctl := &fakeController{room: "room-1"}
	r := newRouter(ctl, &fakeStore{})
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/play", "").Code)
	assert.Equal(t, 1, ctl.plays)

	ctl.playErr = orch.ErrNotJoined
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/play", "").Code)
}

func TestMute(t *testing.T) {
	store := &fakeStore{}
	r := newRouter(&fakeController{room: "room-1"}, store)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/mute", `{"muted":true}`).Code)
	require.NotNil(t, store.muted)
	assert.True(t, *store.muted)
	assert.Equal(t, domain.RoomID("room-1"), store.room)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/mute", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/mute", `nope`).Code)

	notJoined := newRouter(&fakeController{}, &fakeStore{})
	assert.Equal(t, http.StatusConflict, do(notJoined, http.MethodPost, "/api/mute", `{"muted":false}`).Code)
}

func TestQuality(t *testing.T) {
	ctl := &fakeController{
		room: "room-1",
		qualityResult: []quality.Result{
			{Field: domain.FieldResolution, Value: 9999, Err: core.ErrConstraintApplication},
			{Field: domain.FieldMaxBitrate, Value: 1500},
		},
	}
	r := newRouter(ctl, &fakeStore{})

	w := do(r, http.MethodPost, "/api/quality", `{"resolution_height":9999,"max_bitrate_kbps":1500}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctl.applied, 1)
	assert.Equal(t, domain.QualityProfile{
		MaxBitrateKbps:   1500,
		ResolutionHeight: 9999,
	}, ctl.applied[0], "omitted fields are left for the controller to keep")

	var body struct {
		Results []qualityResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, domain.FieldResolution, body.Results[0].Field)
	assert.NotEmpty(t, body.Results[0].Error)
	assert.Empty(t, body.Results[1].Error)

	w = do(r, http.MethodPost, "/api/quality", `{"resolution_height":-1}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctl.applied, 2)
	assert.Equal(t, domain.QualityProfile{ResolutionHeight: domain.Unset}, ctl.applied[1])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/quality", `[`).Code)
}

func TestRenegotiate(t *testing.T) {
	ctl := &fakeController{room: "room-1"}
	r := newRouter(ctl, &fakeStore{})
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/renegotiate", "").Code)

	ctl.renegotiate = core.NewOpError("renegotiate", "room-1", orch.ErrNotOfferer)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/renegotiate", "").Code)

	ctl.renegotiate = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/api/renegotiate", "").Code)
	assert.Equal(t, 3, ctl.renegotiated)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SessionOpened(string(domain.TransportRelayedPeer))

	gin.SetMode(gin.TestMode)
	r := SetupRouter(Options{Controller: &fakeController{}, Store: &fakeStore{}, Gatherer: reg})
	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `roomcast_sessions_opened_total{kind="relayedPeer"} 1`)
}
