// Package refresh keeps the viewport cache warm for the monitored
// areas, so a visitor landing on a watched neighbourhood gets a cached
// response instead of a cold upstream fan-out.
package refresh

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/db"
	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
)

// AreaLister is the minimal DB surface the worker needs. *db.Queries
// satisfies this.
type AreaLister interface {
	ListAreas(ctx context.Context) ([]db.Area, error)
}

// Warmer runs a viewport query for its caching side effect.
// *aggregate.Service satisfies this.
type Warmer interface {
	ByViewport(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error)
}

type Worker struct {
	log      zerolog.Logger
	areas    AreaLister
	warmer   Warmer
	interval time.Duration
}

type Options struct {
	Interval time.Duration
}

func New(log zerolog.Logger, areas AreaLister, warmer Warmer, opts Options) *Worker {
	iv := opts.Interval
	if iv <= 0 {
		iv = 5 * time.Minute
	}
	return &Worker{log: log, areas: areas, warmer: warmer, interval: iv}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.areas == nil || w.warmer == nil {
		return
	}

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.runOnce(ctx); err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.interval, consecutiveFailures))
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	if failures > 4 {
		failures = 4
	}
	d := base * time.Duration(1<<failures)
	if d > time.Hour {
		return time.Hour
	}
	return d
}

// runOnce warms one cache entry per monitored area and reports how many
// succeeded. Individual warm failures are logged and skipped; only a
// full wipeout (or an unlistable area table) is an error.
func (w *Worker) runOnce(ctx context.Context) (int, error) {
	areas, err := w.areas.ListAreas(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("refresh worker failed to list areas")
		return 0, err
	}
	if len(areas) == 0 {
		return 0, nil
	}

	warmed := 0
	for _, a := range areas {
		bbox, ok := areaBBox(a)
		if !ok {
			w.log.Debug().Str("area_id", a.ID).Msg("area has no usable geometry, skipping")
			continue
		}
		if _, err := w.warmer.ByViewport(ctx, bbox, nil, nil); err != nil {
			w.log.Warn().Str("area_id", a.ID).Err(err).Msg("cache warm failed")
			continue
		}
		warmed++
	}

	w.log.Info().Int("areas", len(areas)).Int("warmed", warmed).Msg("refresh pass complete")
	if warmed == 0 {
		return 0, errors.New("no area could be warmed")
	}
	return warmed, nil
}

func areaBBox(a db.Area) (orb.Bound, bool) {
	if len(a.Geometry) == 0 {
		return orb.Bound{}, false
	}
	g, err := geojson.UnmarshalGeometry(a.Geometry)
	if err != nil {
		return orb.Bound{}, false
	}
	return geomath.RoundBound(g.Geometry().Bound(), geomath.DefaultPrecision), true
}
