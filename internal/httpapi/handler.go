// Package httpapi exposes the aggregation core over HTTP: free-text
// search, viewport queries per map action, and single-record detail,
// all returned as GeoJSON feature collections.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/aggregate"
	"civicmap/core-go/internal/cache"
	"civicmap/core-go/internal/db"
	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/filterstate"
	"civicmap/core-go/internal/geomath"
	"civicmap/core-go/internal/metrics"
	"civicmap/core-go/internal/viewport"
)

// Aggregator is the slice of aggregate.Service the handler needs.
type Aggregator interface {
	Search(ctx context.Context, text string, srcs []feature.Source) (feature.Collection, error)
	ByViewport(ctx context.Context, bbox orb.Bound, srcs []feature.Source, params url.Values) (feature.Collection, error)
	Detail(ctx context.Context, id string) (feature.Feature, error)
	Sources() []feature.Source
}

// mapAction binds a URL action name to the source set it queries and
// the deep-link base path detail views push into history. The table is
// fixed at compile time; unknown actions are a 404, never a dynamic
// lookup.
type mapAction struct {
	sources  []feature.Source
	basePath string
}

var actionTable = map[string]mapAction{
	"planning": {
		sources:  []feature.Source{feature.SourcePlanning, feature.SourceAreas},
		basePath: "/planning/",
	},
	"issues": {
		sources:  []feature.Source{feature.SourceIssues},
		basePath: "/issues/",
	},
	"photos": {
		sources:  []feature.Source{feature.SourcePhotomap},
		basePath: "/photos/",
	},
	"combined": {
		basePath: "/combined/",
	},
}

// reservedParams are viewport/camera query fields, never filter input.
var reservedParams = map[string]struct{}{
	"bbox": {},
	"zoom": {},
	"loc":  {},
}

type Options struct {
	// MinZoom gates viewport queries: below it the response is an
	// empty collection, not an error. Zero disables the gate; the
	// config default supplies the usual threshold.
	MinZoom float64

	// RadiusKm sizes the bbox derived from a persisted or default
	// location when the request carries none.
	RadiusKm float64

	// DefaultCenter is the initial camera when no location cookie
	// exists.
	DefaultCenter viewport.Location
}

func (o *Options) setDefaults() {
	if o.RadiusKm == 0 {
		o.RadiusKm = 1
	}
	if o.DefaultCenter == (viewport.Location{}) {
		o.DefaultCenter = viewport.Location{Zoom: 14, Lat: 52.2053, Lon: 0.1218}
	}
}

type Handler struct {
	log     zerolog.Logger
	agg     Aggregator
	pool    *db.Pool
	cache   *cache.Cache
	metrics *metrics.Metrics
	opts    Options
}

func NewHandler(log zerolog.Logger, agg Aggregator, pool *db.Pool, c *cache.Cache, m *metrics.Metrics, opts Options) *Handler {
	opts.setDefaults()
	return &Handler{log: log, agg: agg, pool: pool, cache: c, metrics: m, opts: opts}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Handle("/metrics", h.metrics.Handler())

	r.Get("/search", h.handleSearch)
	r.Get("/detail", h.handleDetail)
	r.Get("/{action}", h.handleAction)

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeCollection(w http.ResponseWriter, col feature.Collection) {
	h.writeJSON(w, http.StatusOK, col.GeoJSON())
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	if err := h.cache.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "cache not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "q parameter is required", nil)
		return
	}

	srcs := h.agg.Sources()
	if raw := r.URL.Query().Get("sources"); raw != "" {
		srcs = srcs[:0:0]
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				srcs = append(srcs, feature.Source(s))
			}
		}
	}

	col, err := h.agg.Search(r.Context(), text, srcs)
	switch {
	case errors.Is(err, aggregate.ErrNoSources):
		h.writeError(w, http.StatusBadRequest, "unknown_sources", "no requested source is configured", nil)
		return
	case errors.Is(err, aggregate.ErrAllSourcesFailed):
		h.writeError(w, http.StatusBadGateway, "upstream_failed", "all sources failed", nil)
		return
	case err != nil:
		h.log.Error().Err(err).Msg("search failed")
		h.writeError(w, http.StatusInternalServerError, "internal", "search failed", nil)
		return
	}

	h.writeCollection(w, col)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "id parameter is required", nil)
		return
	}

	f, err := h.agg.Detail(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "no source returned the record", map[string]any{"id": id})
		return
	}

	h.writeCollection(w, feature.Collection{f})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	act, ok := actionTable[name]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown_action", "unknown map action", map[string]any{"action": name})
		return
	}

	q := r.URL.Query()
	h.persistLocation(w, q.Get("loc"))

	// Below the minimum zoom level there is nothing to show; an empty
	// collection keeps the map state machine moving.
	if raw := q.Get("zoom"); raw != "" {
		zoom, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_zoom", "zoom must be numeric", nil)
			return
		}
		if zoom < h.opts.MinZoom {
			h.writeCollection(w, feature.Collection{})
			return
		}
	}

	state, fresh := h.filterState(r, q)
	if fresh {
		if err := filterstate.Persist(w, state); err != nil {
			h.log.Warn().Err(err).Msg("persisting filter cookie failed")
		}
	}
	params, err := state.QueryParameters()
	if err != nil {
		// Inverted year range: a transient input state, not a failure.
		h.log.Debug().Err(err).Msg("filter state invalid, returning empty collection")
		h.writeCollection(w, feature.Collection{})
		return
	}

	bbox, err := h.requestBBox(r, q)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_bbox", err.Error(), nil)
		return
	}

	col, err := h.agg.ByViewport(r.Context(), bbox, act.sources, params)
	switch {
	case errors.Is(err, aggregate.ErrAllSourcesFailed):
		h.writeError(w, http.StatusBadGateway, "upstream_failed", "all sources failed", nil)
		return
	case err != nil:
		h.log.Error().Err(err).Str("action", name).Msg("viewport query failed")
		h.writeError(w, http.StatusInternalServerError, "internal", "viewport query failed", nil)
		return
	}

	h.writeCollection(w, col)
}

// filterState resolves the active filters for a viewport request:
// submitted form values win; with none submitted the persisted cookie
// is restored. fresh reports whether the cookie needs (re)writing.
func (h *Handler) filterState(r *http.Request, q url.Values) (filterstate.State, bool) {
	submitted := url.Values{}
	for k, vs := range q {
		if _, reserved := reservedParams[k]; reserved {
			continue
		}
		submitted[k] = vs
	}

	if len(submitted) == 0 {
		if s, ok := filterstate.Restore(r); ok {
			return s, false
		}
		return filterstate.State{}, false
	}
	return filterstate.Apply(submitted), true
}

// requestBBox prefers the explicit bbox parameter; without one the
// viewport is reconstructed from the persisted location cookie, or the
// default center on a first visit.
func (h *Handler) requestBBox(r *http.Request, q url.Values) (orb.Bound, error) {
	if raw := q.Get("bbox"); raw != "" {
		return geomath.ParseBBox(raw)
	}

	loc := h.opts.DefaultCenter
	if c, err := r.Cookie(viewport.LocationCookieName); err == nil {
		if parsed, err := viewport.ParseLocation(c.Value); err == nil {
			loc = parsed
		}
	}
	return loc.Viewport(h.opts.RadiusKm).Bound, nil
}

func (h *Handler) persistLocation(w http.ResponseWriter, raw string) {
	if raw == "" {
		return
	}
	loc, err := viewport.ParseLocation(raw)
	if err != nil {
		h.log.Debug().Err(err).Msg("ignoring malformed location")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     viewport.LocationCookieName,
		Value:    loc.String(),
		Path:     "/",
		MaxAge:   int(viewport.LocationCookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// ActionBasePath exposes the deep-link base for an action, used when
// detail views push history entries.
func ActionBasePath(action string) (string, bool) {
	act, ok := actionTable[action]
	if !ok {
		return "", false
	}
	return act.basePath, true
}
