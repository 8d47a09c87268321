package proj

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestWebMercator(t *testing.T) {
	tr, err := NewTransformer(SRID3857)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.NeedsTransform() {
		t.Fatal("3857 should need a transform")
	}

	tests := []struct {
		in   orb.Point
		want orb.Point
	}{
		{orb.Point{0, 0}, orb.Point{0, 0}},
		{orb.Point{180, 0}, orb.Point{maxExtent, 0}},
		{orb.Point{-180, 0}, orb.Point{-maxExtent, 0}},
	}
	for _, tt := range tests {
		got := tr.Point(tt.in)
		if !near(got[0], tt.want[0]) || !near(got[1], tt.want[1]) {
			t.Errorf("Point(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	// poles are clamped instead of going to infinity
	if y := tr.Point(orb.Point{0, 90})[1]; math.IsInf(y, 0) || y <= 0 {
		t.Errorf("pole y = %v", y)
	}
}

func TestGeometryInPlace(t *testing.T) {
	tr, _ := NewTransformer(SRID3857)
	ls := orb.LineString{{0, 0}, {180, 0}}
	got := tr.Geometry(ls).(orb.LineString)
	if !near(got[1][0], maxExtent) {
		t.Errorf("x = %v, want %v", got[1][0], maxExtent)
	}

	identity, _ := NewTransformer(SRID4326)
	p := orb.Point{13.4, 52.5}
	if identity.NeedsTransform() || identity.Geometry(p) != p {
		t.Error("4326 should be the identity")
	}
}

func TestParseSRID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4326", SRID4326, false},
		{"EPSG:3857", SRID3857, false},
		{"2154", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSRID(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSRID(%q) = %d, %v", tt.in, got, err)
		}
	}
	if _, err := NewTransformer(2154); err == nil {
		t.Error("expected error for unsupported SRID")
	}
}
