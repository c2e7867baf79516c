// Package aggregate fans queries out to the configured source adapters
// and merges their results into one feature collection.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/cache"
	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
	"civicmap/core-go/internal/metrics"
	"civicmap/core-go/internal/sources"
)

var (
	ErrNoQuery          = errors.New("no query specified")
	ErrNoSources        = errors.New("no sources specified")
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// Service owns the adapter list. Adapter order is fixed at construction
// time and determines merge order, regardless of completion order.
type Service struct {
	log      zerolog.Logger
	adapters []sources.Adapter
	cache    *cache.Cache
	metrics  *metrics.Metrics
}

func New(log zerolog.Logger, adapters []sources.Adapter, c *cache.Cache, m *metrics.Metrics) *Service {
	return &Service{log: log, adapters: adapters, cache: c, metrics: m}
}

// Sources lists the adapter names in their stable order.
func (s *Service) Sources() []feature.Source {
	out := make([]feature.Source, len(s.adapters))
	for i, a := range s.adapters {
		out[i] = a.Name()
	}
	return out
}

// Search queries the requested sources with free text. When a source
// recognizes an opaque identifier inside the text, that source is
// queried exclusively by id and its result returned immediately; this
// short-circuit is a routing rule, not an error. Otherwise all requested
// sources run in parallel and results concatenate in requested-source
// order, without de-duplication.
func (s *Service) Search(ctx context.Context, text string, srcs []feature.Source) (feature.Collection, error) {
	if text == "" {
		return nil, ErrNoQuery
	}
	selected := s.selectAdapters(srcs)
	if len(selected) == 0 {
		return nil, ErrNoSources
	}

	for _, a := range selected {
		r, ok := a.(sources.IDRecognizer)
		if !ok {
			continue
		}
		id, ok := r.RecognizeID(text)
		if !ok {
			continue
		}
		s.log.Debug().Str("source", string(a.Name())).Str("id", id).Msg("text recognized as upstream id")
		feats, err := s.query(ctx, a, sources.Criteria{ID: id})
		if err != nil {
			return nil, ErrAllSourcesFailed
		}
		return feats, nil
	}

	return s.fanOut(ctx, selected, func(a sources.Adapter) sources.Criteria {
		return sources.Criteria{Text: text}
	}, false)
}

// ByViewport queries the requested sources (all adapters when srcs is
// empty) with the bbox plus filter-derived parameters, merges in source
// order and de-duplicates exact repeats.
func (s *Service) ByViewport(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error) {
	selected := s.adapters
	if len(srcs) > 0 {
		selected = s.selectAdapters(srcs)
	}
	if len(selected) == 0 {
		return nil, ErrNoSources
	}

	key := viewportCacheKey(bbox, srcs, params)
	if b, ok := s.cache.Get(ctx, key); ok {
		var col feature.Collection
		if err := json.Unmarshal(b, &col); err == nil {
			s.metrics.IncCacheHit()
			return col, nil
		}
	}
	s.metrics.IncCacheMiss()

	col, err := s.fanOut(ctx, selected, func(a sources.Adapter) sources.Criteria {
		return sources.Criteria{BBox: &bbox, Params: params}
	}, true)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(col); err == nil {
		s.cache.Set(ctx, key, b)
	}
	return col, nil
}

// Detail fetches one record by id from the first adapter that
// recognizes the id shape, falling back to asking each in order.
func (s *Service) Detail(ctx context.Context, id string) (feature.Feature, error) {
	for _, a := range s.adapters {
		if r, ok := a.(sources.IDRecognizer); ok {
			if _, match := r.RecognizeID(id); !match {
				continue
			}
		}
		feats, err := s.query(ctx, a, sources.Criteria{ID: id})
		if err != nil || len(feats) == 0 {
			continue
		}
		return feats[0], nil
	}
	return feature.Feature{}, ErrAllSourcesFailed
}

// fanOut queries the given adapters in parallel. Merge order is the
// adapter list order, never completion order, so output is deterministic
// under arbitrary network interleaving. A failed adapter contributes
// nothing; only a full wipeout is an error.
func (s *Service) fanOut(ctx context.Context, adapters []sources.Adapter, criteriaFor func(sources.Adapter) sources.Criteria, dedupe bool) (feature.Collection, error) {
	results := make([][]feature.Feature, len(adapters))
	errs := make([]error, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a sources.Adapter) {
			defer wg.Done()
			results[i], errs[i] = s.query(ctx, a, criteriaFor(a))
		}(i, a)
	}
	wg.Wait()

	failed := 0
	var merged feature.Collection
	for i := range adapters {
		if errs[i] != nil {
			failed++
			continue
		}
		merged = append(merged, results[i]...)
	}
	if failed == len(adapters) {
		return nil, ErrAllSourcesFailed
	}

	if merged == nil {
		merged = feature.Collection{}
	}
	if dedupe {
		merged = merged.Dedupe()
	}
	return merged, nil
}

func (s *Service) query(ctx context.Context, a sources.Adapter, c sources.Criteria) ([]feature.Feature, error) {
	start := time.Now()
	feats, err := a.Query(ctx, c)
	s.metrics.ObserveSourceQuery(string(a.Name()), time.Since(start), err)
	if err != nil {
		s.log.Error().Str("source", string(a.Name())).Err(err).Msg("source query failed")
	}
	return feats, err
}

func (s *Service) selectAdapters(srcs []feature.Source) []sources.Adapter {
	if len(srcs) == 0 {
		return nil
	}
	requested := make(map[feature.Source]struct{}, len(srcs))
	for _, src := range srcs {
		requested[src] = struct{}{}
	}
	var out []sources.Adapter
	for _, a := range s.adapters {
		if _, ok := requested[a.Name()]; ok {
			out = append(out, a)
		}
	}
	return out
}

func viewportCacheKey(bbox orb.Bound, srcs []feature.Source, params url.Values) string {
	key := "viewport:" + geomath.FormatBBox(bbox)
	for _, src := range srcs {
		key += ":" + string(src)
	}
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			key += ":" + string(b)
		}
	}
	return key
}
