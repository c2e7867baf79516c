// Package geomath holds the pure coordinate helpers shared by the source
// adapters and the aggregation layer: nearby-search envelopes, envelope
// centroids and coordinate precision reduction.
package geomath

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// Mean Earth radius, spherical model.
	earthRadiusKm = 6371.0

	// DefaultPrecision is the number of decimal places kept on wire
	// coordinates. Six decimals is roughly 11cm at the equator.
	DefaultPrecision = 6
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry kind")

// PointToBBox returns the box whose four edges lie distanceKm from the
// point along the four cardinal bearings, edges rounded to six decimals.
func PointToBBox(lat, lon, distanceKm float64) orb.Bound {
	nLat, _ := destination(lat, lon, 0, distanceKm)
	_, eLon := destination(lat, lon, 90, distanceKm)
	sLat, _ := destination(lat, lon, 180, distanceKm)
	_, wLon := destination(lat, lon, 270, distanceKm)

	return orb.Bound{
		Min: orb.Point{round(wLon, DefaultPrecision), round(sLat, DefaultPrecision)},
		Max: orb.Point{round(eLon, DefaultPrecision), round(nLat, DefaultPrecision)},
	}
}

// destination solves the direct geodesic problem on a sphere: the
// lat/lon reached by travelling distanceKm from (lat, lon) on the given
// bearing (degrees clockwise from north).
func destination(lat, lon, bearingDeg, distanceKm float64) (float64, float64) {
	phi1 := lat * math.Pi / 180
	lambda1 := lon * math.Pi / 180
	theta := bearingDeg * math.Pi / 180
	delta := distanceKm / earthRadiusKm

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return phi2 * 180 / math.Pi, lambda2 * 180 / math.Pi
}

// Centroid returns a representative point for the geometry. For a Point
// it is the point itself. For every multi-coordinate kind it is the
// midpoint of the coordinate-wise min/max envelope, NOT an area-weighted
// centroid; that bias is part of the output contract and consumers that
// need a true centroid must not use this. Collections recurse into their
// members and take the envelope of the member centroids.
func Centroid(g orb.Geometry) (orb.Point, error) {
	switch g := g.(type) {
	case orb.Point:
		return g, nil
	case orb.MultiPoint, orb.LineString, orb.MultiLineString, orb.Polygon, orb.MultiPolygon, orb.Ring:
		return midpoint(g.Bound()), nil
	case orb.Collection:
		if len(g) == 0 {
			return orb.Point{}, fmt.Errorf("%w: empty GeometryCollection", ErrUnsupportedGeometry)
		}
		var b orb.Bound
		for i, member := range g {
			p, err := Centroid(member)
			if err != nil {
				return orb.Point{}, err
			}
			if i == 0 {
				b = orb.Bound{Min: p, Max: p}
			} else {
				b = b.Extend(p)
			}
		}
		return midpoint(b), nil
	default:
		if g == nil {
			return orb.Point{}, fmt.Errorf("%w: nil geometry", ErrUnsupportedGeometry)
		}
		return orb.Point{}, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

func midpoint(b orb.Bound) orb.Point {
	return orb.Point{
		(b.Min[0] + b.Max[0]) / 2,
		(b.Min[1] + b.Max[1]) / 2,
	}
}

// ReduceAccuracy cuts both coordinates of p down to dp decimal places.
// Idempotent: reducing an already-reduced point is a no-op.
func ReduceAccuracy(p orb.Point, dp int) orb.Point {
	return orb.Point{round(p[0], dp), round(p[1], dp)}
}

// ReduceAccuracyCoords reduces every coordinate of a coordinate list in
// place-free fashion, returning a new slice.
func ReduceAccuracyCoords(coords []orb.Point, dp int) []orb.Point {
	out := make([]orb.Point, len(coords))
	for i, p := range coords {
		out[i] = ReduceAccuracy(p, dp)
	}
	return out
}

// RoundBound rounds all four edges of b to dp decimal places.
func RoundBound(b orb.Bound, dp int) orb.Bound {
	return orb.Bound{
		Min: orb.Point{round(b.Min[0], dp), round(b.Min[1], dp)},
		Max: orb.Point{round(b.Max[0], dp), round(b.Max[1], dp)},
	}
}

// FormatBBox renders b in the "w,s,e,n" wire form.
func FormatBBox(b orb.Bound) string {
	return strings.Join([]string{
		formatCoord(b.Min[0]),
		formatCoord(b.Min[1]),
		formatCoord(b.Max[0]),
		formatCoord(b.Max[1]),
	}, ",")
}

// ParseBBox parses the "w,s,e,n" wire form.
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have 4 comma-separated values (got %q)", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		vals[i] = v
	}
	b := orb.Bound{
		Min: orb.Point{vals[0], vals[1]},
		Max: orb.Point{vals[2], vals[3]},
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("bbox west/south must not exceed east/north (got %q)", s)
	}
	return b, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round(v float64, dp int) float64 {
	scale := math.Pow10(dp)
	return math.Round(v*scale) / scale
}
