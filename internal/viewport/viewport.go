// Package viewport owns the current map viewport and decides when the
// feature layer must be (re)loaded. It is the only writer of the layer's
// data and the only issuer of aggregation requests, so all ordering
// rules live here.
package viewport

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/filterstate"
	"civicmap/core-go/internal/geomath"
	"civicmap/core-go/internal/metrics"
)

// State is the controller's lifecycle position. There is no terminal
// state; the controller runs for the page's lifetime.
type State int

const (
	Idle State = iota
	// Gated means zoom is below the data threshold; the layer is kept
	// empty. Explicitly not an error state.
	Gated
	Loading
	Loaded
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Gated:
		return "gated"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Viewport is the visible bbox plus zoom, bbox edges rounded to six
// decimals. It is produced by the map surface and read-only here.
type Viewport struct {
	Bound orb.Bound
	Zoom  float64
}

// LayerSink receives the feature collection to display. The sink's data
// is replaced wholesale on every accepted response, never patched.
// SetCollection is called with the controller lock held: it must return
// quickly and must not call back into the controller.
type LayerSink interface {
	SetCollection(feature.Collection)
}

// Fetcher is the aggregation call the controller drives.
// *aggregate.Service satisfies this.
type Fetcher interface {
	ByViewport(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error)
}

// FilterSource yields the current filter predicate as query parameters.
type FilterSource interface {
	QueryParameters() (url.Values, error)
}

type Controller struct {
	log     zerolog.Logger
	fetch   Fetcher
	layer   LayerSink
	filters FilterSource
	sources []feature.Source
	minZoom float64
	metrics *metrics.Metrics

	// gen tags every issued request; only the response carrying the
	// latest tag may mutate state, so a slow response from a previous
	// viewport can never overwrite a newer one.
	gen atomic.Int64

	mu     sync.Mutex
	state  State
	view   Viewport
	cancel context.CancelFunc

	inflight sync.WaitGroup
}

// New builds a controller for one map action; srcs is the source set
// that action queries (nil means every configured source).
func New(log zerolog.Logger, fetch Fetcher, layer LayerSink, filters FilterSource, srcs []feature.Source, minZoom float64, m *metrics.Metrics) *Controller {
	return &Controller{
		log:     log,
		fetch:   fetch,
		layer:   layer,
		filters: filters,
		sources: srcs,
		minZoom: minZoom,
		metrics: m,
		state:   Idle,
	}
}

// State reports the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Viewport reports the last seen viewport.
func (c *Controller) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Run consumes the viewport-moved event stream until ctx is cancelled.
// One consumer per stream; the map surface only produces events.
func (c *Controller) Run(ctx context.Context, moves <-chan Viewport) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-moves:
			if !ok {
				return
			}
			c.Move(ctx, v)
		}
	}
}

// Move handles one viewport change. Below the zoom threshold it gates:
// clears the layer and requests nothing. At or above it, it issues a
// freshly tagged aggregation request, superseding any in-flight one.
// It returns the generation issued, or zero when no request was made.
func (c *Controller) Move(ctx context.Context, v Viewport) int64 {
	v.Bound = geomath.RoundBound(v.Bound, geomath.DefaultPrecision)

	c.mu.Lock()
	c.view = v

	if v.Zoom < c.minZoom {
		// Invalidate in-flight work before clearing so a late
		// response cannot repopulate the layer.
		c.gen.Add(1)
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.state = Gated
		c.layer.SetCollection(feature.Collection{})
		c.mu.Unlock()
		return 0
	}

	params, err := c.filters.QueryParameters()
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, filterstate.ErrDateRangeInvalid) {
			// Transient user-input state: skip the fetch quietly and
			// wait for the filters to become coherent.
			c.log.Debug().Err(err).Msg("fetch skipped, filter range invalid")
			return 0
		}
		c.log.Error().Err(err).Msg("filter parameters unavailable")
		return 0
	}

	gen := c.gen.Add(1)
	if c.cancel != nil {
		// Cancelling the superseded request is an optimization only;
		// the generation check is what guarantees it cannot win.
		c.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Loading
	bound := v.Bound
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		col, err := c.fetch.ByViewport(fetchCtx, bound, c.sources, params)
		c.complete(gen, col, err)
	}()
	return gen
}

// complete applies one response under the generation discipline. Stale
// responses, successful or failed, change nothing. The layer write
// stays inside the critical section: between the generation check and
// an unlocked write a newer response could slip in, and the stale
// collection would land last.
func (c *Controller) complete(gen int64, col feature.Collection, err error) {
	c.mu.Lock()
	if gen != c.gen.Load() {
		c.mu.Unlock()
		c.metrics.IncStaleResponse()
		c.log.Debug().Int64("generation", gen).Msg("stale response discarded")
		return
	}

	if err != nil {
		c.state = Errored
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("viewport load failed")
		return
	}

	c.state = Loaded
	c.layer.SetCollection(col)
	c.mu.Unlock()
}
