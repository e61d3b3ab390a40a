// Package tracks maps media tracks to renderable surfaces.
//
// The mapping is keyed by track id, never by event order: ingesting the same
// stream twice, or receiving a track callback before or after its stream was
// classified, yields the same bindings.
package tracks

import (
	"sort"
	"sync"

	"github.com/dkeye/roomcast/internal/app/surface"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Renderers core.RendererFactory
	Metrics   *metrics.Metrics
	Logger    *zerolog.Logger
	// LegacyScreenHeuristic tags unclassified video as screen share instead
	// of RoleUnknownVideo.
	LegacyScreenHeuristic bool
}

// Classified is a track with the role the router assigned to it.
type Classified struct {
	Track core.MediaTrack
	Role  domain.TrackRole
}

type binding struct {
	seq     uint64
	track   core.MediaTrack
	origin  domain.Origin
	surface *surface.Surface
	stop    chan struct{}
}

type Router struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	seq      uint64
	bindings map[string]*binding
	hints    map[string]domain.TrackRole
	muted    bool
	onChange []func()
}

func NewRouter(opts Options) *Router {
	logger := log.With().Str("module", "tracks").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Router{
		opts:     opts,
		logger:   logger,
		bindings: make(map[string]*binding),
		hints:    make(map[string]domain.TrackRole),
	}
}

// OnChange registers fn to run after every change of the surface set.
func (r *Router) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Classify orders video before audio. Audio is always microphone; video takes
// its role from a trackMeta hint when one arrived, otherwise it stays
// ambiguous. This is a heuristic, not a guarantee.
func (r *Router) Classify(stream core.MediaStream) []Classified {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classifyLocked(stream)
}

func (r *Router) classifyLocked(stream core.MediaStream) []Classified {
	if stream == nil {
		return nil
	}
	var video, audio []Classified
	for _, t := range stream.Tracks() {
		switch t.Kind() {
		case domain.TrackKindVideo:
			video = append(video, Classified{Track: t, Role: r.videoRoleLocked(t.ID())})
		case domain.TrackKindAudio:
			audio = append(audio, Classified{Track: t, Role: domain.RoleMicrophone})
		}
	}
	return append(video, audio...)
}

func (r *Router) videoRoleLocked(trackID string) domain.TrackRole {
	if role, ok := r.hints[trackID]; ok {
		return role
	}
	if r.opts.LegacyScreenHeuristic {
		return domain.RoleScreen
	}
	return domain.RoleUnknownVideo
}

// Bind creates a surface for track. An existing binding for the same track id
// is revoked first.
func (r *Router) Bind(track core.MediaTrack, origin domain.Origin, role domain.TrackRole) (*surface.Surface, error) {
	var renderer core.Renderer
	if r.opts.Renderers != nil {
		rd, err := r.opts.Renderers.NewRenderer(track)
		if err != nil {
			return nil, err
		}
		renderer = rd
	}

	r.mu.Lock()
	s := r.bindLocked(track, origin, role, renderer)
	r.mu.Unlock()

	r.notify()
	return s, nil
}

func (r *Router) bindLocked(track core.MediaTrack, origin domain.Origin, role domain.TrackRole, renderer core.Renderer) *surface.Surface {
	id := track.ID()
	if old, ok := r.bindings[id]; ok {
		r.logger.Info().Str("track_id", id).Msg("revoking previous surface before rebind")
		r.releaseLocked(old)
	}

	var detach func()
	s := surface.New(surface.Options{
		TrackID:  id,
		Kind:     track.Kind(),
		Role:     role,
		Origin:   origin,
		Renderer: renderer,
		Release: func() {
			if detach != nil {
				detach()
			}
		},
	})
	if r.muted {
		s.SetMuted(true)
	}
	detach = track.Attach(s)

	r.seq++
	b := &binding{seq: r.seq, track: track, origin: origin, surface: s, stop: make(chan struct{})}
	r.bindings[id] = b
	go r.watch(b)

	r.opts.Metrics.SurfaceBound()
	r.logger.Info().
		Str("track_id", id).
		Str("kind", string(track.Kind())).
		Str("role", string(role)).
		Str("origin", string(origin)).
		Str("surface", s.ID()).
		Msg("surface bound")
	return s
}

// watch unbinds the surface when its track ends without an explicit unbind.
func (r *Router) watch(b *binding) {
	select {
	case <-b.track.Done():
		r.mu.Lock()
		cur, ok := r.bindings[b.track.ID()]
		if !ok || cur != b {
			r.mu.Unlock()
			return
		}
		r.logger.Info().Str("track_id", b.track.ID()).Msg("track ended, unbinding surface")
		r.releaseLocked(b)
		r.mu.Unlock()
		r.notify()
	case <-b.stop:
	}
}

func (r *Router) releaseLocked(b *binding) {
	delete(r.bindings, b.track.ID())
	close(b.stop)
	b.surface.Close()
	r.opts.Metrics.SurfaceReleased()
}

// Ingest classifies stream and binds every live track not already bound
// under the same track object. Returns the newly bound surfaces.
func (r *Router) Ingest(stream core.MediaStream, origin domain.Origin) []*surface.Surface {
	r.mu.Lock()
	classified := r.classifyLocked(stream)
	fresh := classified[:0:0]
	for _, c := range classified {
		if ended(c.Track) {
			continue
		}
		if b, ok := r.bindings[c.Track.ID()]; ok && b.track == c.Track {
			continue
		}
		fresh = append(fresh, c)
	}
	r.mu.Unlock()

	out := make([]*surface.Surface, 0, len(fresh))
	for _, c := range fresh {
		s, err := r.Bind(c.Track, origin, c.Role)
		if err != nil {
			r.logger.Error().Err(err).Str("track_id", c.Track.ID()).Msg("bind failed")
			continue
		}
		out = append(out, s)
	}
	return out
}

func ended(t core.MediaTrack) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

func (r *Router) Unbind(trackID string) bool {
	r.mu.Lock()
	b, ok := r.bindings[trackID]
	if ok {
		r.releaseLocked(b)
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

// UnbindOrigin detaches every surface of one origin and leaves the others.
func (r *Router) UnbindOrigin(origin domain.Origin) int {
	return r.unbindWhere(func(b *binding) bool { return b.origin == origin })
}

// UnbindAll detaches every surface. Call it before the owning session
// releases its connection.
func (r *Router) UnbindAll() int {
	return r.unbindWhere(func(*binding) bool { return true })
}

func (r *Router) unbindWhere(match func(*binding) bool) int {
	r.mu.Lock()
	n := 0
	for _, b := range r.bindings {
		if match(b) {
			r.releaseLocked(b)
			n++
		}
	}
	r.mu.Unlock()
	if n > 0 {
		r.notify()
	}
	return n
}

// SetRoleHint records the role announced for trackID and updates a bound
// surface in place.
func (r *Router) SetRoleHint(trackID string, role domain.TrackRole) {
	if !role.Valid() {
		return
	}
	r.mu.Lock()
	r.hints[trackID] = role
	b, ok := r.bindings[trackID]
	if ok && b.track.Kind() == domain.TrackKindVideo {
		b.surface.SetRole(role)
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// SetMuted applies mute to every surface, current and future.
func (r *Router) SetMuted(muted bool) {
	r.mu.Lock()
	r.muted = muted
	for _, b := range r.bindings {
		b.surface.SetMuted(muted)
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Router) Lookup(trackID string) (*surface.Surface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[trackID]
	if !ok {
		return nil, false
	}
	return b.surface, true
}

// Surfaces returns bound surfaces in bind order.
func (r *Router) Surfaces() []*surface.Surface {
	r.mu.Lock()
	bs := make([]*binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		bs = append(bs, b)
	}
	r.mu.Unlock()
	sort.Slice(bs, func(i, j int) bool { return bs[i].seq < bs[j].seq })
	out := make([]*surface.Surface, len(bs))
	for i, b := range bs {
		out[i] = b.surface
	}
	return out
}

func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

func (r *Router) notify() {
	r.mu.Lock()
	fns := append([]func(){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
