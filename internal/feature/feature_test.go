package feature

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapfile-go/internal/mapfile"
)

func collect(filter Filter) (*Builder, *[]Feature) {
	var out []Feature
	b := NewBuilder(filter, func(f Feature) { out = append(out, f) })
	return b, &out
}

func TestProcessPOI(t *testing.T) {
	b, out := collect(nil)
	poi := &mapfile.POI{
		Layer:        2,
		Tags:         osm.Tags{{Key: "amenity", Value: "cafe"}},
		Lat:          52500120,
		Lon:          13399955,
		HouseNumber:  "12a",
		Elevation:    34,
		HasElevation: true,
	}
	b.ProcessPOI(poi)
	poi.Tags[0].Value = "changed"

	require.Len(t, *out, 1)
	f := (*out)[0]
	assert.Equal(t, Point, f.Kind)
	assert.Equal(t, int8(2), f.Layer)
	assert.InDelta(t, 13.399955, f.Geometry.(orb.Point).Lon(), 1e-9)
	assert.InDelta(t, 52.500120, f.Geometry.(orb.Point).Lat(), 1e-9)
	assert.Equal(t, osm.Tags{
		{Key: "amenity", Value: "cafe"},
		{Key: "addr:housenumber", Value: "12a"},
		{Key: "ele", Value: "34"},
	}, f.Tags)
	assert.Equal(t, Stats{Points: 1}, b.Stats())
}

func TestProcessWayGeometryKinds(t *testing.T) {
	square := []int32{0, 0, 1000000, 0, 1000000, 1000000, 0, 1000000, 0, 0}
	hole := []int32{200000, 200000, 400000, 200000, 400000, 400000, 200000, 200000}
	line := []int32{0, 0, 1000000, 2000000}

	tests := []struct {
		name   string
		tags   osm.Tags
		rings  [][]int32
		closed bool
		want   Kind
		geom   string
	}{
		{"open line", osm.Tags{{Key: "highway", Value: "primary"}}, [][]int32{line}, false, Line, "LineString"},
		{"closed building", osm.Tags{{Key: "building", Value: "yes"}}, [][]int32{square}, true, Polygon, "Polygon"},
		{"closed roundabout", osm.Tags{{Key: "highway", Value: "primary"}}, [][]int32{square}, true, Line, "LineString"},
		{"explicit area", osm.Tags{{Key: "highway", Value: "pedestrian"}, {Key: "area", Value: "yes"}}, [][]int32{square}, true, Polygon, "Polygon"},
		{"inner rings make a polygon", nil, [][]int32{square, hole}, true, Polygon, "Polygon"},
		{"open multi ring", nil, [][]int32{line, line}, false, Line, "MultiLineString"},
		{"degenerate ring falls back to line", osm.Tags{{Key: "building", Value: "yes"}}, [][]int32{line}, true, Line, "LineString"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			way := &mapfile.Way{Tags: tt.tags, Closed: tt.closed}
			for _, r := range tt.rings {
				way.Coordinates = append(way.Coordinates, r...)
				way.RingLengths = append(way.RingLengths, len(r))
			}

			b, out := collect(nil)
			b.ProcessWay(way)
			require.Len(t, *out, 1)
			assert.Equal(t, tt.want, (*out)[0].Kind)
			assert.Equal(t, tt.geom, (*out)[0].Geometry.GeoJSONType())
		})
	}
}

func TestPolygonRingsAreClosed(t *testing.T) {
	way := &mapfile.Way{
		Tags:        osm.Tags{{Key: "landuse", Value: "forest"}},
		Coordinates: []int32{0, 0, 1000000, 0, 1000000, 1000000, 0, 0},
		RingLengths: []int{8},
		Closed:      true,
		Label:       mapfile.Point{Lat: 500000, Lon: 250000},
		HasLabel:    true,
	}
	b, out := collect(nil)
	b.ProcessWay(way)

	poly := (*out)[0].Geometry.(orb.Polygon)
	require.Len(t, poly, 1)
	assert.True(t, poly[0].Closed())
	assert.Equal(t, orb.Point{0.25, 0.5}, (*out)[0].Label)
}

type kindFilter string

func (k kindFilter) Allows(kind string, _ osm.Tags) bool { return kind == string(k) }
func (k kindFilter) AllowsLayer(layer int8) bool         { return layer >= 0 }

func TestBuilderFilter(t *testing.T) {
	b, out := collect(kindFilter("point"))
	b.ProcessPOI(&mapfile.POI{})
	b.ProcessPOI(&mapfile.POI{Layer: -1})
	b.ProcessWay(&mapfile.Way{Coordinates: []int32{0, 0, 1, 1}, RingLengths: []int{4}})

	assert.Len(t, *out, 1)
	assert.Equal(t, Stats{Points: 1, Filtered: 2}, b.Stats())
}

func TestIsArea(t *testing.T) {
	tests := []struct {
		tags osm.Tags
		want bool
	}{
		{osm.Tags{{Key: "building", Value: "yes"}}, true},
		{osm.Tags{{Key: "waterway", Value: "riverbank"}}, false},
		{osm.Tags{{Key: "building", Value: "yes"}, {Key: "area", Value: "no"}}, false},
		{osm.Tags{{Key: "name", Value: "x"}}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsArea(tt.tags); got != tt.want {
			t.Errorf("IsArea(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestCollectionGeoJSON(t *testing.T) {
	c := NewCollection()
	c.Add(Feature{
		Kind:     Point,
		Layer:    1,
		Tags:     osm.Tags{{Key: "name", Value: "Café Eins"}},
		Geometry: orb.Point{13.4, 52.5},
	})
	c.Add(Feature{
		Kind:     Line,
		Geometry: orb.LineString{{13, 52}, {14, 53}},
		Label:    orb.Point{13.5, 52.5},
		HasLabel: true,
	})
	assert.Equal(t, 2, c.Len())

	bound, ok := c.Bound()
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{13, 52}, Max: orb.Point{14, 53}}, bound)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var doc struct {
		Type     string    `json:"type"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	assert.Equal(t, []float64{13, 52, 14, 53}, doc.BBox)
	require.Len(t, doc.Features, 2)
	assert.Equal(t, "Café Eins", doc.Features[0].Properties["name"])
	assert.Equal(t, "point", doc.Features[0].Properties[PropertyKind])
	assert.Equal(t, float64(1), doc.Features[0].Properties[PropertyLayer])
	assert.Equal(t, []any{13.5, 52.5}, doc.Features[1].Properties[PropertyLabel])
}
