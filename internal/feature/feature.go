// Package feature turns decoded map file records into geometries with tags.
package feature

import (
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/mapfile-go/internal/mapfile"
)

// Kind is the output geometry class of a feature
type Kind int

const (
	Point Kind = iota
	Line
	Polygon
)

var kindNames = [...]string{"point", "line", "polygon"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Tag keys added for POI fields that are not stored as tags
const (
	TagKeyElevation = "ele"
)

// Feature is a decoded POI or way with coordinates in degrees
type Feature struct {
	Kind     Kind
	Layer    int8
	Tags     osm.Tags
	Geometry orb.Geometry

	Label    orb.Point
	HasLabel bool
}

// Filter decides whether a feature is kept
type Filter interface {
	Allows(kind string, tags osm.Tags) bool
	AllowsLayer(layer int8) bool
}

// Stats counts features seen by a Builder
type Stats struct {
	Points   int
	Lines    int
	Polygons int
	Filtered int
}

// Builder is a mapfile.Sink that converts POIs and ways to features and
// passes them to a handler. The handler owns the feature it receives.
type Builder struct {
	filter Filter
	handle func(Feature)
	stats  Stats
}

// NewBuilder creates a builder. filter may be nil.
func NewBuilder(filter Filter, handle func(Feature)) *Builder {
	return &Builder{filter: filter, handle: handle}
}

// Stats returns the counts accumulated so far
func (b *Builder) Stats() Stats {
	return b.stats
}

// ProcessPOI implements mapfile.Sink
func (b *Builder) ProcessPOI(poi *mapfile.POI) {
	tags := make(osm.Tags, len(poi.Tags), len(poi.Tags)+2)
	copy(tags, poi.Tags)
	if poi.HouseNumber != "" {
		tags = append(tags, osm.Tag{Key: mapfile.TagKeyHouseNumber, Value: poi.HouseNumber})
	}
	if poi.HasElevation {
		tags = append(tags, osm.Tag{Key: TagKeyElevation, Value: strconv.Itoa(int(poi.Elevation))})
	}

	f := Feature{
		Kind:     Point,
		Layer:    poi.Layer,
		Tags:     tags,
		Geometry: toPoint(poi.Lon, poi.Lat),
	}
	b.emit(f)
}

// ProcessWay implements mapfile.Sink
func (b *Builder) ProcessWay(way *mapfile.Way) {
	f := Feature{
		Layer: way.Layer,
		Tags:  append(osm.Tags(nil), way.Tags...),
	}
	if way.HasLabel {
		f.Label = toPoint(way.Label.Lon, way.Label.Lat)
		f.HasLabel = true
	}

	rings := make([]orb.LineString, len(way.RingLengths))
	for i := range rings {
		rings[i] = toLineString(way.Ring(i))
	}

	if way.Closed && (len(rings) > 1 || IsArea(f.Tags)) {
		if poly, ok := toPolygon(rings); ok {
			f.Kind = Polygon
			f.Geometry = poly
			b.emit(f)
			return
		}
	}

	f.Kind = Line
	if len(rings) == 1 {
		f.Geometry = rings[0]
	} else {
		f.Geometry = orb.MultiLineString(rings)
	}
	b.emit(f)
}

func (b *Builder) emit(f Feature) {
	if b.filter != nil && (!b.filter.AllowsLayer(f.Layer) || !b.filter.Allows(f.Kind.String(), f.Tags)) {
		b.stats.Filtered++
		return
	}
	switch f.Kind {
	case Point:
		b.stats.Points++
	case Line:
		b.stats.Lines++
	case Polygon:
		b.stats.Polygons++
	}
	if b.handle != nil {
		b.handle(f)
	}
}

func toPoint(lon, lat int32) orb.Point {
	return orb.Point{float64(lon) / 1e6, float64(lat) / 1e6}
}

// toLineString converts interleaved lon/lat microdegrees
func toLineString(coords []int32) orb.LineString {
	ls := make(orb.LineString, len(coords)/2)
	for i := range ls {
		ls[i] = toPoint(coords[2*i], coords[2*i+1])
	}
	return ls
}

// toPolygon closes every ring. It fails when a ring has too few points to
// enclose an area.
func toPolygon(rings []orb.LineString) (orb.Polygon, bool) {
	poly := make(orb.Polygon, 0, len(rings))
	for _, ls := range rings {
		ring := orb.Ring(ls)
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if len(ring) < 4 {
			return nil, false
		}
		poly = append(poly, ring)
	}
	return poly, true
}

// IsArea checks if a closed way should be treated as a polygon
func IsArea(tags osm.Tags) bool {
	if v := tags.Find("area"); v != "" {
		return v == "yes"
	}

	for _, tag := range tags {
		if isArea, exists := areaKeys[tag.Key]; exists {
			return isArea
		}
	}
	return false
}

var areaKeys = map[string]bool{
	"building": true,
	"landuse":  true,
	"natural":  true,
	"leisure":  true,
	"amenity":  true,
	"shop":     true,
	"tourism":  true,
	"man_made": true,
	"waterway": false, // rivers are lines even if closed
	"highway":  false, // roundabouts are lines
	"barrier":  false,
	"railway":  false,
}
