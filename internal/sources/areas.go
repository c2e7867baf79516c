package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/db"
	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
)

// AreaQueries is the minimal DB surface the areas adapter needs.
// *db.Queries satisfies this.
type AreaQueries interface {
	ListAreasInBBox(ctx context.Context, west, south, east, north float64) ([]db.Area, error)
	SearchAreas(ctx context.Context, text string) ([]db.Area, error)
	GetArea(ctx context.Context, id string) (db.Area, error)
}

// Areas serves monitored-area polygons from the internal store.
type Areas struct {
	log     zerolog.Logger
	q       AreaQueries
	baseURL string
}

func NewAreas(log zerolog.Logger, q AreaQueries, baseURL string) *Areas {
	return &Areas{log: log, q: q, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Areas) Name() feature.Source { return feature.SourceAreas }

func (s *Areas) Query(ctx context.Context, c Criteria) ([]feature.Feature, error) {
	var (
		rows []db.Area
		err  error
	)
	switch {
	case c.ID != "":
		var a db.Area
		a, err = s.q.GetArea(ctx, c.ID)
		rows = []db.Area{a}
	case c.BBox != nil:
		b := *c.BBox
		rows, err = s.q.ListAreasInBBox(ctx, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	case c.Text != "":
		rows, err = s.q.SearchAreas(ctx, c.Text)
	default:
		return nil, fmt.Errorf("areas query needs a bbox, text or id")
	}
	if err != nil {
		return nil, fmt.Errorf("areas query: %w", err)
	}

	out := make([]feature.Feature, 0, len(rows))
	for _, a := range rows {
		out = append(out, s.normalize(a))
	}
	return out, nil
}

func (s *Areas) normalize(a db.Area) feature.Feature {
	f := feature.Feature{
		Moniker: feature.Moniker(feature.SourceAreas, a.ID),
		Source:  feature.SourceAreas,
		Title:   a.Name,
		When:    a.UpdatedAt.Unix(),
	}
	if a.Description != nil {
		f.Description = *a.Description
	}
	if a.Link != nil {
		f.Link = absoluteURL(*a.Link, s.baseURL)
	}
	for _, cat := range a.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat != "" {
			f.Categories = append(f.Categories, cat)
		}
	}

	if len(a.Geometry) > 0 {
		g, err := geojson.UnmarshalGeometry(a.Geometry)
		if err != nil {
			s.log.Warn().Str("area_id", a.ID).Err(err).Msg("area geometry unreadable")
			return f
		}
		geom := g.Geometry()
		if pt, err := geomath.Centroid(geom); err != nil {
			s.log.Debug().Str("area_id", a.ID).Err(err).Msg("area geometry unsupported")
		} else {
			pt = geomath.ReduceAccuracy(pt, geomath.DefaultPrecision)
			f.Point = &pt
		}
		b := geomath.RoundBound(geom.Bound(), geomath.DefaultPrecision)
		f.BBox = &b
	}
	return f
}
