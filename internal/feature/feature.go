// Package feature defines the normalized geospatial record every source
// adapter maps into, and the wire FeatureCollection envelope built from it.
package feature

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"civicmap/core-go/internal/geomath"
)

// Source tags which upstream a feature came from.
type Source string

const (
	SourcePlanning Source = "planreg"
	SourceIssues   Source = "issues"
	SourcePhotomap Source = "photomap"
	SourceAreas    Source = "areas"
)

// Feature is one normalized record. Moniker ("<source>/<id>") is the
// stable identity key across reloads; the display geometry is always a
// single point while the original geometry's envelope survives in BBox.
type Feature struct {
	Moniker     string         `json:"moniker"`
	Source      Source         `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Image       string         `json:"image,omitempty"`
	Link        string         `json:"link,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Address     string         `json:"address,omitempty"`
	When        int64          `json:"when,omitempty"`
	BBox        *orb.Bound     `json:"bbox,omitempty"`
	Point       *orb.Point     `json:"point,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Moniker builds the cross-source identity key.
func Moniker(src Source, id string) string {
	return string(src) + "/" + id
}

// GeoJSON renders the feature in the boundary shape: Point geometry plus
// the flat properties map, bbox serialized as "w,s,e,n".
func (f Feature) GeoJSON() *geojson.Feature {
	var g *geojson.Feature
	if f.Point != nil {
		g = geojson.NewFeature(*f.Point)
	} else {
		// Unsupported original geometry: the feature keeps its
		// descriptive properties but carries no point representation.
		g = &geojson.Feature{Type: "Feature"}
	}

	props := geojson.Properties{
		"moniker": f.Moniker,
		"source":  string(f.Source),
		"title":   f.Title,
	}
	if f.Description != "" {
		props["description"] = f.Description
	}
	if f.Image != "" {
		props["image"] = f.Image
	}
	if f.Link != "" {
		props["link"] = f.Link
	}
	if len(f.Categories) > 0 {
		props["categories"] = f.Categories
	}
	if f.Address != "" {
		props["address"] = f.Address
	}
	if f.When != 0 {
		props["when"] = f.When
	}
	if f.BBox != nil {
		props["bbox"] = geomath.FormatBBox(*f.BBox)
	}
	for k, v := range f.Extra {
		props[k] = v
	}
	g.Properties = props
	return g
}

// Collection is an ordered list of features.
type Collection []Feature

// Dedupe drops features whose full serialized content is identical to
// one already kept. Order-preserving, first occurrence wins.
func (c Collection) Dedupe() Collection {
	if len(c) < 2 {
		return c
	}
	seen := make(map[string]struct{}, len(c))
	out := make(Collection, 0, len(c))
	for _, f := range c {
		b, err := json.Marshal(f)
		if err != nil {
			// Not serializable means not comparable; keep it.
			out = append(out, f)
			continue
		}
		key := string(b)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// GeoJSON renders the collection in the FeatureCollection envelope.
func (c Collection) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range c {
		fc.Append(f.GeoJSON())
	}
	return fc
}
