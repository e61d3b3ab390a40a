package quality

import (
	"errors"
	"sync"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Result reports the outcome of one field.
type Result struct {
	Field domain.QualityField `json:"field"`
	Value int                 `json:"value"`
	// Pending is set when there was no video track to apply to.
	Pending bool  `json:"pending,omitempty"`
	Err     error `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

// Controller tracks the desired profile and the last successfully applied
// baseline for one connection.
type Controller struct {
	target  Target
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	baseline domain.QualityProfile
	desired  domain.QualityProfile
	pending  map[domain.QualityField]bool
}

func NewController(target Target, m *metrics.Metrics, logger *zerolog.Logger) *Controller {
	l := log.With().Str("module", "quality").Logger()
	if logger != nil {
		l = *logger
	}
	return &Controller{
		target:   target,
		metrics:  m,
		logger:   l,
		baseline: domain.DefaultQualityProfile(),
		desired:  domain.DefaultQualityProfile(),
		pending:  make(map[domain.QualityField]bool),
	}
}

// Apply lays p over the desired profile and applies every field that differs
// from the baseline or is still pending. Zero fields keep their current value.
// A failed field keeps its previous baseline.
func (c *Controller) Apply(p domain.QualityProfile) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = p.Over(c.desired)

	var results []Result
	for _, f := range domain.Fields {
		v := p.Get(f)
		if v == c.baseline.Get(f) && !c.pending[f] {
			continue
		}
		results = append(results, c.applyLocked(f, v))
	}
	return results
}

// Reapply pushes the desired profile onto tracks that appeared since the last
// Apply, e.g. after the local capture stream changed.
func (c *Controller) Reapply() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var results []Result
	for _, f := range domain.Fields {
		v := c.desired.Get(f)
		if v == domain.Unset && !c.pending[f] {
			continue
		}
		results = append(results, c.applyLocked(f, v))
	}
	return results
}

func (c *Controller) applyLocked(f domain.QualityField, v int) Result {
	err := apply(c.target, f, v)
	switch {
	case err == nil:
		c.baseline.Set(f, v)
		c.desired.Set(f, v)
		delete(c.pending, f)
		c.metrics.QualityApplied(string(f), true)
		c.logger.Debug().Str("field", string(f)).Int("value", v).Msg("quality applied")
		return Result{Field: f, Value: v}
	case errors.Is(err, ErrNoVideoTrack):
		c.desired.Set(f, v)
		c.pending[f] = true
		c.logger.Debug().Str("field", string(f)).Int("value", v).Msg("no video track yet, quality pending")
		return Result{Field: f, Value: v, Pending: true, Err: err}
	default:
		c.desired.Set(f, c.baseline.Get(f))
		delete(c.pending, f)
		c.metrics.QualityApplied(string(f), false)
		c.logger.Warn().Err(err).Str("field", string(f)).Int("value", v).
			Int("baseline", c.baseline.Get(f)).Msg("quality rejected, keeping baseline")
		return Result{Field: f, Value: v, Err: err}
	}
}

func (c *Controller) Baseline() domain.QualityProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

func (c *Controller) Desired() domain.QualityProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}
