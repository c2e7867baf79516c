// Package popup resolves a selected feature into detail-panel content
// and keeps browser history in step with the open feature.
package popup

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"civicmap/core-go/internal/feature"
)

// maxHistoryTitle caps the title written into browser history.
const maxHistoryTitle = 60

// closedStatuses are upstream application states that trigger the
// "application closed" banner.
var closedStatuses = map[string]struct{}{
	"decided":   {},
	"withdrawn": {},
	"refused":   {},
	"closed":    {},
}

// HistorySink is the browser-history contract: write a path and title
// without a full navigation.
type HistorySink interface {
	Push(path, title string)
}

// Panel is the detail view contract.
type Panel interface {
	ShowLoading(f feature.Feature)
	ShowDetail(d Detail)
	ShowError(message string)
	Hide()
}

// DetailFetcher resolves a richer record by upstream id.
// *aggregate.Service satisfies this.
type DetailFetcher interface {
	Detail(ctx context.Context, id string) (feature.Feature, error)
}

// Detail is the resolved panel content plus its conditional sections.
type Detail struct {
	Feature feature.Feature
	// ShowRelated toggles the matching-related-records block.
	ShowRelated bool
	Related     []string
	// Closed toggles the application-closed banner.
	Closed bool
}

// EventKind is a feature-selection stream event.
type EventKind int

const (
	EventSelect EventKind = iota
	EventEscape
	EventCloseControl
	EventMapClick
)

// Event is one entry on the feature-selected stream. Feature is only
// meaningful for EventSelect.
type Event struct {
	Kind    EventKind
	Feature feature.Feature
}

type Controller struct {
	log       zerolog.Logger
	history   HistorySink
	panel     Panel
	fetch     DetailFetcher
	basePath  string
	baseTitle string

	// gen discards enrichment responses for a feature that is no
	// longer the open one.
	gen atomic.Int64

	mu   sync.Mutex
	open *feature.Feature

	inflight sync.WaitGroup
}

func New(log zerolog.Logger, history HistorySink, panel Panel, fetch DetailFetcher, basePath, baseTitle string) *Controller {
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return &Controller{
		log:       log,
		history:   history,
		panel:     panel,
		fetch:     fetch,
		basePath:  basePath,
		baseTitle: baseTitle,
	}
}

// Run consumes the feature-selected event stream until ctx is
// cancelled. Escape, the explicit close control and a click elsewhere
// on the map all route to Close.
func (c *Controller) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventSelect:
				c.Open(ctx, ev.Feature)
			default:
				c.Close()
			}
		}
	}
}

// Open shows the detail panel for f and writes its deep link into
// history. Planning-register records are too thin for detail display,
// so they trigger an enrichment fetch; the panel shows a loading state
// until it resolves rather than blocking selection on the round-trip.
func (c *Controller) Open(ctx context.Context, f feature.Feature) {
	gen := c.gen.Add(1)

	c.mu.Lock()
	c.open = &f
	c.mu.Unlock()

	id := strings.TrimPrefix(f.Moniker, string(f.Source)+"/")
	c.history.Push(c.basePath+id+"/", truncateTitle(f.Title))

	if f.Source != feature.SourcePlanning {
		c.panel.ShowDetail(buildDetail(f))
		return
	}

	c.panel.ShowLoading(f)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		rich, err := c.fetch.Detail(ctx, id)
		if gen != c.gen.Load() {
			// The user moved on; this panel no longer exists.
			return
		}
		if err != nil {
			c.log.Error().Str("id", id).Err(err).Msg("detail fetch failed")
			c.panel.ShowError("Could not load application details.")
			return
		}
		c.panel.ShowDetail(buildDetail(rich))
	}()
}

// Close hides the panel and restores the base action URL and title.
func (c *Controller) Close() {
	c.gen.Add(1)

	c.mu.Lock()
	wasOpen := c.open != nil
	c.open = nil
	c.mu.Unlock()

	if !wasOpen {
		return
	}
	c.panel.Hide()
	c.history.Push(c.basePath, c.baseTitle)
}

// Current reports the currently open feature, if any.
func (c *Controller) Current() (feature.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return feature.Feature{}, false
	}
	return *c.open, true
}

func buildDetail(f feature.Feature) Detail {
	d := Detail{Feature: f}
	if status, ok := f.Extra["status"].(string); ok {
		_, d.Closed = closedStatuses[strings.ToLower(status)]
	}
	switch related := f.Extra["related"].(type) {
	case []string:
		d.Related = related
	case []any:
		for _, r := range related {
			if s, ok := r.(string); ok {
				d.Related = append(d.Related, s)
			}
		}
	}
	d.ShowRelated = len(d.Related) > 0
	return d
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) <= maxHistoryTitle {
		return title
	}
	return strings.TrimSpace(string(runes[:maxHistoryTitle])) + "…"
}
