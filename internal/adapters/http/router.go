// Package http exposes the session controller over a small REST API.
package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/roomcast/internal/app/orch"
	"github.com/dkeye/roomcast/internal/app/quality"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Controller is the part of orch.Controller the API drives.
type Controller interface {
	Room() domain.RoomID
	Snapshot() orch.SessionInfo
	Play() error
	ApplyQuality(domain.QualityProfile) []quality.Result
	Renegotiate() error
}

// MuteSetter stores the presentation mute flag.
type MuteSetter interface {
	SetMuted(room domain.RoomID, muted bool)
}

type Options struct {
	Mode       string
	Controller Controller
	Store      MuteSetter
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

const requestIDHeader = "X-Request-ID"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type qualityResult struct {
	Field   domain.QualityField `json:"field"`
	Value   int                 `json:"value"`
	Pending bool                `json:"pending,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func SetupRouter(opts Options) *gin.Engine {
	if opts.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	if opts.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	ctl := opts.Controller
	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Snapshot())
	})

	api.POST("/play", func(c *gin.Context) {
		if err := ctl.Play(); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/mute", func(c *gin.Context) {
		var req muteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		room := ctl.Room()
		if room == "" {
			abort(c, orch.ErrNotJoined)
			return
		}
		opts.Store.SetMuted(room, *req.Muted)
		c.Status(http.StatusNoContent)
	})

	api.POST("/quality", func(c *gin.Context) {
		var p domain.QualityProfile
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		results := ctl.ApplyQuality(p)
		out := make([]qualityResult, 0, len(results))
		for _, res := range results {
			qr := qualityResult{Field: res.Field, Value: res.Value, Pending: res.Pending}
			if res.Err != nil {
				qr.Error = res.Err.Error()
			}
			out = append(out, qr)
		}
		c.JSON(http.StatusOK, gin.H{"results": out})
	})

	api.POST("/renegotiate", func(c *gin.Context) {
		if err := ctl.Renegotiate(); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, orch.ErrNotJoined) || errors.Is(err, orch.ErrNotOfferer) {
		status = http.StatusConflict
	}
	log.Warn().Str("module", "adapters.http").Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
