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

// Photomap queries the geotagged photo archive.
type Photomap struct {
	log     zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewPhotomap(log zerolog.Logger, client *http.Client, baseURL string) *Photomap {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Photomap{log: log, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Photomap) Name() feature.Source { return feature.SourcePhotomap }

type photoRecord struct {
	ID           int64   `json:"id"`
	Caption      string  `json:"caption"`
	Photographer string  `json:"photographer"`
	Thumbnail    string  `json:"thumbnail"`
	Page         string  `json:"page"`
	Taken        string  `json:"taken"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}

func (s *Photomap) Query(ctx context.Context, c Criteria) ([]feature.Feature, error) {
	q := url.Values{}
	switch {
	case c.ID != "":
		q.Set("id", c.ID)
	case c.Text != "":
		q.Set("q", c.Text)
	}
	appendBBoxParams(q, c)

	var payload struct {
		Photos []photoRecord `json:"photos"`
	}
	if err := fetchJSON(ctx, s.client, s.baseURL+"/photos?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("photomap query: %w", err)
	}

	out := make([]feature.Feature, 0, len(payload.Photos))
	for _, r := range payload.Photos {
		out = append(out, s.normalize(r))
	}
	return out, nil
}

func (s *Photomap) normalize(r photoRecord) feature.Feature {
	id := strconv.FormatInt(r.ID, 10)

	title := r.Caption
	if title == "" {
		title = "Photo " + id
	}
	desc := ""
	if r.Photographer != "" {
		desc = "Photo by " + r.Photographer
	}

	pt := geomath.ReduceAccuracy(orb.Point{r.Lon, r.Lat}, geomath.DefaultPrecision)
	return feature.Feature{
		Moniker:     feature.Moniker(feature.SourcePhotomap, id),
		Source:      feature.SourcePhotomap,
		Title:       title,
		Description: desc,
		Image:       absoluteURL(r.Thumbnail, s.baseURL),
		Link:        absoluteURL(r.Page, s.baseURL),
		When:        parsePlanDate(r.Taken),
		Point:       &pt,
	}
}
