package viewport

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"civicmap/core-go/internal/geomath"
)

const (
	// LocationCookieName persists the last map position between
	// sessions; the URL hash mirrors the same 5-field format for
	// shareable deep links.
	LocationCookieName   = "civicmap_location"
	LocationCookieMaxAge = 14 * 24 * time.Hour
)

// Location is the "<zoom>/<lat>/<lon>/<bearing>/<pitch>" camera state.
type Location struct {
	Zoom    float64
	Lat     float64
	Lon     float64
	Bearing float64
	Pitch   float64
}

// ParseLocation parses the slash-separated wire form.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "#"), "/")
	if len(parts) != 5 {
		return Location{}, fmt.Errorf("location must have 5 slash-separated fields (got %q)", s)
	}
	vals := make([]float64, 5)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Location{}, fmt.Errorf("location field %d: %w", i, err)
		}
		vals[i] = v
	}
	return Location{Zoom: vals[0], Lat: vals[1], Lon: vals[2], Bearing: vals[3], Pitch: vals[4]}, nil
}

func (l Location) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(l.Zoom) + "/" + f(l.Lat) + "/" + f(l.Lon) + "/" + f(l.Bearing) + "/" + f(l.Pitch)
}

// Viewport derives the initial viewport from a persisted or default
// location. This is the one place a bbox is hand-constructed; afterwards
// the bbox always comes from the live map surface.
func (l Location) Viewport(radiusKm float64) Viewport {
	return Viewport{
		Bound: geomath.PointToBBox(l.Lat, l.Lon, radiusKm),
		Zoom:  l.Zoom,
	}
}
