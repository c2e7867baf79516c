package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
)

// Issues queries the crowd-sourced issue/idea tracker.
type Issues struct {
	log     zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewIssues(log zerolog.Logger, client *http.Client, baseURL string) *Issues {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Issues{log: log, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Issues) Name() feature.Source { return feature.SourceIssues }

type issueRecord struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Photo    string   `json:"photo"`
	Link     string   `json:"link"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Created  string   `json:"created"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
}

func (s *Issues) Query(ctx context.Context, c Criteria) ([]feature.Feature, error) {
	q := url.Values{}
	switch {
	case c.ID != "":
		q.Set("id", c.ID)
	case c.Text != "":
		q.Set("q", c.Text)
	}
	appendBBoxParams(q, c)

	var payload struct {
		Issues []issueRecord `json:"issues"`
	}
	if err := fetchJSON(ctx, s.client, s.baseURL+"/issues?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("issues query: %w", err)
	}

	out := make([]feature.Feature, 0, len(payload.Issues))
	for _, r := range payload.Issues {
		out = append(out, s.normalize(r))
	}
	return out, nil
}

func (s *Issues) normalize(r issueRecord) feature.Feature {
	id := strconv.FormatInt(r.ID, 10)

	pt := geomath.ReduceAccuracy(orb.Point{r.Lon, r.Lat}, geomath.DefaultPrecision)
	f := feature.Feature{
		Moniker:     feature.Moniker(feature.SourceIssues, id),
		Source:      feature.SourceIssues,
		Title:       r.Title,
		Description: absolutizeLinks(r.Detail, s.baseURL),
		// The tracker serves thumbnail paths relative to its origin.
		Image: absoluteURL(r.Photo, s.baseURL),
		Link:  absoluteURL(r.Link, s.baseURL),
		When:  parseIssueTime(r.Created),
		Point: &pt,
	}

	if r.Category != "" {
		f.Categories = append(f.Categories, strings.ToLower(r.Category))
	}
	for _, tag := range r.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			f.Categories = append(f.Categories, tag)
		}
	}
	return f
}

// parseIssueTime accepts the tracker's RFC3339 timestamps as well as
// plain unix seconds, which older records still carry.
func parseIssueTime(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return secs
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	return 0
}
