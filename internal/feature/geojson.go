package feature

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Property keys for feature metadata. The prefix keeps them apart from tags.
const (
	PropertyKind  = "@kind"
	PropertyLayer = "@layer"
	PropertyLabel = "@label"
)

// GeoJSON converts a feature to a GeoJSON feature with its tags as properties
func (f Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	for _, tag := range f.Tags {
		gf.Properties[tag.Key] = tag.Value
	}
	gf.Properties[PropertyKind] = f.Kind.String()
	gf.Properties[PropertyLayer] = int(f.Layer)
	if f.HasLabel {
		gf.Properties[PropertyLabel] = []float64{f.Label[0], f.Label[1]}
	}
	return gf
}

// Collection accumulates features into a FeatureCollection. Its Add method
// can be used as a Builder handler.
type Collection struct {
	fc    *geojson.FeatureCollection
	bound orb.Bound
	empty bool
}

// NewCollection creates an empty collection
func NewCollection() *Collection {
	return &Collection{fc: geojson.NewFeatureCollection(), empty: true}
}

// Add appends a feature
func (c *Collection) Add(f Feature) {
	c.fc.Append(f.GeoJSON())
	b := f.Geometry.Bound()
	if c.empty {
		c.bound = b
		c.empty = false
	} else {
		c.bound = c.bound.Union(b)
	}
}

// Len returns the number of features
func (c *Collection) Len() int {
	return len(c.fc.Features)
}

// Bound returns the bounding box of all features
func (c *Collection) Bound() (orb.Bound, bool) {
	return c.bound, !c.empty
}

// FeatureCollection returns the underlying collection with its bbox set
func (c *Collection) FeatureCollection() *geojson.FeatureCollection {
	if !c.empty {
		c.fc.BBox = geojson.NewBBox(c.bound)
	}
	return c.fc
}

// MarshalJSON implements json.Marshaler
func (c *Collection) MarshalJSON() ([]byte, error) {
	return c.FeatureCollection().MarshalJSON()
}
