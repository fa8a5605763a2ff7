package geofence

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

var valluvarCenter = LatLng{Lat: 11.270233401520507, Lng: 77.60308379730445}

// metersPerDegreeLat matches Haversine along a meridian.
const metersPerDegreeLat = EarthRadiusMeters * math.Pi / 180

func TestHaversineZeroAndSymmetric(t *testing.T) {
	if d := Haversine(valluvarCenter, valluvarCenter); d != 0 {
		t.Fatalf("distance to self = %v", d)
	}
	other := LatLng{Lat: 11.2712, Lng: 77.6045}
	if a, b := Haversine(valluvarCenter, other), Haversine(other, valluvarCenter); math.Abs(a-b) > 1e-9 {
		t.Fatalf("asymmetric distance %v vs %v", a, b)
	}
}

func TestHaversineMeridian(t *testing.T) {
	north := LatLng{Lat: valluvarCenter.Lat + 150/metersPerDegreeLat, Lng: valluvarCenter.Lng}
	d := Haversine(valluvarCenter, north)
	if math.Abs(d-150) > 0.01 {
		t.Fatalf("expected ~150m, got %v", d)
	}
}

func TestCheckCircle(t *testing.T) {
	b := Boundary{Name: "Valluvar Mens Hostel", Center: &valluvarCenter, RadiusMeters: 100}

	res := Check(valluvarCenter, b)
	if !res.Valid || res.Mode != ModeCircle || res.DistanceMeters == nil || *res.DistanceMeters != 0 {
		t.Fatalf("center: %+v", res)
	}

	far := LatLng{Lat: valluvarCenter.Lat + 150/metersPerDegreeLat, Lng: valluvarCenter.Lng}
	res = Check(far, b)
	if res.Valid {
		t.Fatalf("150m away accepted: %+v", res)
	}
	if math.Abs(*res.DistanceMeters-150) > 0.01 {
		t.Fatalf("distance = %v", *res.DistanceMeters)
	}
}

func TestCheckCircleBoundaryInclusive(t *testing.T) {
	edge := LatLng{Lat: valluvarCenter.Lat + 0.0005, Lng: valluvarCenter.Lng + 0.0003}
	d := Haversine(edge, valluvarCenter)
	b := Boundary{Center: &valluvarCenter, RadiusMeters: d}
	if res := Check(edge, b); !res.Valid {
		t.Fatalf("point at exactly radius rejected: %+v", res)
	}
}

func TestCircleTakesPrecedenceOverPolygon(t *testing.T) {
	// The polygon is far away; only the circle should be consulted.
	b := Boundary{
		Center:       &valluvarCenter,
		RadiusMeters: 50,
		Points:       []LatLng{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
	}
	res := Check(valluvarCenter, b)
	if !res.Valid || res.Mode != ModeCircle {
		t.Fatalf("%+v", res)
	}
}

func TestPointInPolygon(t *testing.T) {
	square := []LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 2}, {Lat: 2, Lng: 2}, {Lat: 2, Lng: 0}}
	cases := []struct {
		name string
		p    LatLng
		want bool
	}{
		{"inside", LatLng{Lat: 1, Lng: 1}, true},
		{"outside", LatLng{Lat: 3, Lng: 1}, false},
		{"on edge", LatLng{Lat: 0, Lng: 1}, true},
		{"on vertex", LatLng{Lat: 2, Lng: 2}, true},
		{"left of polygon on edge line", LatLng{Lat: 0, Lng: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PointInPolygon(tc.p, square); got != tc.want {
				t.Fatalf("PointInPolygon(%+v) = %v, want %v", tc.p, got, tc.want)
			}
		})
	}
}

func TestPointInPolygonUsesLngAsX(t *testing.T) {
	// A thin rectangle spanning longitude 0..10 and latitude 0..1.
	rect := []LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 1, Lng: 10}, {Lat: 1, Lng: 0}}
	if !PointInPolygon(LatLng{Lat: 0.5, Lng: 9}, rect) {
		t.Fatal("expected point inside")
	}
	if PointInPolygon(LatLng{Lat: 9, Lng: 0.5}, rect) {
		t.Fatal("axes swapped")
	}
}

func TestPointInPolygonDegenerate(t *testing.T) {
	if PointInPolygon(LatLng{}, []LatLng{{0, 0}, {1, 1}}) {
		t.Fatal("two-point polygon contains a point")
	}
	res := Check(LatLng{}, Boundary{})
	if res.Valid || res.Mode != ModePolygon {
		t.Fatalf("%+v", res)
	}
}

func TestParsePosition(t *testing.T) {
	cases := []struct {
		name     string
		lat, lng string
		want     Position
		wantErr  bool
	}{
		{"numbers", `11.27`, `77.60`, Position{Coord: LatLng{Lat: 11.27, Lng: 77.60}}, false},
		{"numeric strings", `"11.27"`, `" 77.60 "`, Position{Coord: LatLng{Lat: 11.27, Lng: 77.60}}, false},
		{"web sentinel", `"web"`, `"web"`, Position{Bypass: true}, false},
		{"missing", ``, ``, Position{Bypass: true}, false},
		{"null", `null`, `77.6`, Position{Bypass: true}, false},
		{"garbage", `"north"`, `77.6`, Position{}, true},
		{"out of range", `91`, `77.6`, Position{}, true},
		{"boolean", `true`, `77.6`, Position{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePosition(json.RawMessage(tc.lat), json.RawMessage(tc.lng))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCoordinate) {
					t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	b, ok := reg.Lookup("Valluvar Mens Hostel")
	if !ok {
		t.Fatal("Valluvar Mens Hostel missing")
	}
	if !b.IsCircle() || b.RadiusMeters != 100 || *b.Center != valluvarCenter {
		t.Fatalf("unexpected boundary %+v", b)
	}
	if len(b.Points) != 4 {
		t.Fatalf("expected 4 polygon points, got %d", len(b.Points))
	}
	if _, ok := reg.Lookup("Unknown Block"); ok {
		t.Fatal("unknown block resolved")
	}
	if n := len(reg.Names()); n != 10 {
		t.Fatalf("expected 10 hostels, got %d", n)
	}
}

func TestLoadRejectsBadBoundaries(t *testing.T) {
	cases := map[string]string{
		"no shape":  "hostels:\n  - name: A\n",
		"no name":   "hostels:\n  - center: {lat: 1, lng: 1}\n    radius_m: 5\n",
		"duplicate": "hostels:\n  - {name: A, center: {lat: 1, lng: 1}, radius_m: 5}\n  - {name: A, center: {lat: 1, lng: 1}, radius_m: 5}\n",
		"unknown":   "hostels:\n  - {name: A, radius: 5}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
