// Package sources holds one query+normalize adapter per upstream. Each
// adapter issues its own network or database calls and maps the native
// schema into the normalized feature shape; adapters share no mutable state.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/paulmach/orb"

	"civicmap/core-go/internal/feature"
	"civicmap/core-go/internal/geomath"
)

// Criteria is the adapter query contract: a bbox, a text query, an
// upstream id, or a combination valid for that source, plus any
// filter-derived query parameters to pass through.
type Criteria struct {
	BBox   *orb.Bound
	Text   string
	ID     string
	Params url.Values
}

// Adapter queries one upstream and returns normalized features.
type Adapter interface {
	Name() feature.Source
	Query(ctx context.Context, c Criteria) ([]feature.Feature, error)
}

// IDRecognizer is implemented by adapters whose upstream uses an opaque
// compound identifier that can be spotted inside free text. The
// aggregator queries such an adapter exclusively by id when the pattern
// matches.
type IDRecognizer interface {
	RecognizeID(text string) (string, bool)
}

func fetchJSON(ctx context.Context, client *http.Client, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little for keep-alive reuse, then fail.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return fmt.Errorf("upstream returned %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}

var hrefPattern = regexp.MustCompile(`(href|src)="(/[^"]*)"`)

// absolutizeLinks rewrites relative href/src attributes embedded in rich
// text descriptions against the upstream base URL, so the text remains
// usable once it leaves the upstream's origin.
func absolutizeLinks(html, base string) string {
	base = strings.TrimRight(base, "/")
	return hrefPattern.ReplaceAllString(html, `$1="`+base+`$2"`)
}

// absoluteURL resolves a possibly-relative upstream URL against base.
func absoluteURL(raw, base string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
}

func appendBBoxParams(q url.Values, c Criteria) {
	if c.BBox != nil {
		q.Set("bbox", geomath.FormatBBox(*c.BBox))
	}
	for k, vs := range c.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
}
