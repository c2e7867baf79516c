package geomath

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestPointToBBox_ContainsOrigin(t *testing.T) {
	b := PointToBBox(52.2053, 0.1218, 0.1)

	if !(b.Min[1] < 52.2053 && 52.2053 < b.Max[1]) {
		t.Fatalf("expected s < lat < n, got s=%v n=%v", b.Min[1], b.Max[1])
	}
	if !(b.Min[0] < 0.1218 && 0.1218 < b.Max[0]) {
		t.Fatalf("expected w < lon < e, got w=%v e=%v", b.Min[0], b.Max[0])
	}
}

func TestPointToBBox_CenterSymmetry(t *testing.T) {
	cases := []struct {
		lat, lon, km float64
	}{
		{52.2053, 0.1218, 0.1},
		{52.2053, 0.1218, 2},
		{-33.8688, 151.2093, 1},
		{0, 0, 3},
	}

	for _, c := range cases {
		b := PointToBBox(c.lat, c.lon, c.km)
		center, err := Centroid(orb.Polygon{b.ToRing()})
		if err != nil {
			t.Fatalf("centroid of bbox polygon: %v", err)
		}

		const eps = 1e-4
		if math.Abs(center[1]-c.lat) > eps {
			t.Fatalf("lat=%v km=%v: recomputed center lat %v drifted beyond %v", c.lat, c.km, center[1], eps)
		}
		if math.Abs(center[0]-c.lon) > eps {
			t.Fatalf("lon=%v km=%v: recomputed center lon %v drifted beyond %v", c.lon, c.km, center[0], eps)
		}
	}
}

func TestCentroid_PointIsIdentity(t *testing.T) {
	p := orb.Point{0.1218, 52.2053}
	got, err := Centroid(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p {
		t.Fatalf("expected %v, got %v", p, got)
	}
}

func TestCentroid_SquarePolygon(t *testing.T) {
	square := orb.Polygon{orb.Ring{
		{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0},
	}}
	got, err := Centroid(square)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (orb.Point{1, 1}) {
		t.Fatalf("expected (1,1), got %v", got)
	}
}

func TestCentroid_CollectionEnvelopeOfMembers(t *testing.T) {
	g := orb.Collection{
		orb.Point{0, 0},
		orb.Point{4, 2},
	}
	got, err := Centroid(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (orb.Point{2, 1}) {
		t.Fatalf("expected (2,1), got %v", got)
	}
}

func TestCentroid_EmptyCollectionUnsupported(t *testing.T) {
	_, err := Centroid(orb.Collection{})
	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestReduceAccuracy_Idempotent(t *testing.T) {
	pts := []orb.Point{
		{0.123456789, 52.987654321},
		{-1.0000004, -0.0000009},
		{179.999999999, -89.999999999},
	}
	for _, p := range pts {
		once := ReduceAccuracy(p, DefaultPrecision)
		twice := ReduceAccuracy(once, DefaultPrecision)
		if once != twice {
			t.Fatalf("reduce not idempotent for %v: once=%v twice=%v", p, once, twice)
		}
	}
}

func TestReduceAccuracyCoords(t *testing.T) {
	in := []orb.Point{{0.12345678, 1.87654321}}
	out := ReduceAccuracyCoords(in, 6)
	if out[0] != (orb.Point{0.123457, 1.876543}) {
		t.Fatalf("unexpected reduced coords: %v", out[0])
	}
}

func TestBBoxWireFormatRoundTrip(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0.1, 52.1}, Max: orb.Point{0.2, 52.3}}
	got, err := ParseBBox(FormatBBox(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != b {
		t.Fatalf("round trip mismatch: %v != %v", got, b)
	}
}

func TestParseBBox_Rejects(t *testing.T) {
	for _, s := range []string{"", "1,2,3", "a,b,c,d", "2,0,1,1", "0,2,1,1"} {
		if _, err := ParseBBox(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}
