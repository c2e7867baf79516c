package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
)

// Compound application reference, e.g. "19/1780/FUL".
var planRefPattern = regexp.MustCompile(`\b\d{2}/\d{4}/[A-Z]{2,5}\b`)

// Tag categories the register attaches for its own workflow; they carry
// no meaning downstream and are stripped during normalization.
var planInternalCategories = map[string]struct{}{
	"weekly-list": {},
	"neighbour":   {},
}

// PlanReg queries the planning application register.
type PlanReg struct {
	log     zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewPlanReg(log zerolog.Logger, client *http.Client, baseURL string) *PlanReg {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PlanReg{log: log, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *PlanReg) Name() feature.Source { return feature.SourcePlanning }

// RecognizeID reports whether free text contains an application
// reference, returning the reference when it does.
func (p *PlanReg) RecognizeID(text string) (string, bool) {
	ref := planRefPattern.FindString(strings.ToUpper(strings.TrimSpace(text)))
	return ref, ref != ""
}

type planRegRecord struct {
	Reference   string            `json:"reference"`
	Proposal    string            `json:"proposal"`
	Address     string            `json:"address"`
	Received    string            `json:"received_date"`
	Status      string            `json:"status"`
	URL         string            `json:"url"`
	AppType     string            `json:"application_type"`
	Tags        []string          `json:"tags"`
	Geometry    *geojson.Geometry `json:"geometry"`
	RelatedRefs []string          `json:"related_refs"`
}

func (p *PlanReg) Query(ctx context.Context, c Criteria) ([]feature.Feature, error) {
	q := url.Values{}
	switch {
	case c.ID != "":
		q.Set("ref", c.ID)
	case c.Text != "":
		q.Set("q", c.Text)
	}
	appendBBoxParams(q, c)

	var records []planRegRecord
	if err := fetchJSON(ctx, p.client, p.baseURL+"/applications?"+q.Encode(), &records); err != nil {
		return nil, fmt.Errorf("planreg query: %w", err)
	}

	out := make([]feature.Feature, 0, len(records))
	for _, r := range records {
		out = append(out, p.normalize(r))
	}
	return out, nil
}

func (p *PlanReg) normalize(r planRegRecord) feature.Feature {
	f := feature.Feature{
		Moniker:     feature.Moniker(feature.SourcePlanning, r.Reference),
		Source:      feature.SourcePlanning,
		Title:       r.Reference,
		Description: absolutizeLinks(r.Proposal, p.baseURL),
		Link:        absoluteURL(r.URL, p.baseURL),
		Address:     r.Address,
		When:        parsePlanDate(r.Received),
	}

	if r.AppType != "" {
		f.Categories = append(f.Categories, strings.ToLower(r.AppType))
	}
	for _, tag := range r.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, internal := planInternalCategories[tag]; internal {
			continue
		}
		f.Categories = append(f.Categories, tag)
	}

	if r.Status != "" || len(r.RelatedRefs) > 0 {
		f.Extra = map[string]any{}
		if r.Status != "" {
			f.Extra["status"] = strings.ToLower(r.Status)
		}
		if len(r.RelatedRefs) > 0 {
			f.Extra["related"] = r.RelatedRefs
		}
	}

	if r.Geometry != nil {
		geom := r.Geometry.Geometry()
		if pt, err := geomath.Centroid(geom); err != nil {
			// Keep the record, drop only its point representation.
			p.log.Debug().Str("ref", r.Reference).Err(err).Msg("planreg geometry unsupported")
		} else {
			pt = geomath.ReduceAccuracy(pt, geomath.DefaultPrecision)
			f.Point = &pt
		}
		b := geomath.RoundBound(geom.Bound(), geomath.DefaultPrecision)
		f.BBox = &b
	}

	return f
}

// parsePlanDate converts the register's "2006-01-02" date strings to
// unix seconds; unparseable input maps to zero, not an error.
func parsePlanDate(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0
	}
	return t.Unix()
}
