// Package wkb encodes orb geometries as PostGIS extended WKB.
package wkb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// WKB geometry type codes (ISO SQL/MM)
const (
	wkbPoint           = 1
	wkbLineString      = 2
	wkbPolygon         = 3
	wkbMultiPoint      = 4
	wkbMultiLineString = 5
	wkbMultiPolygon    = 6

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000

	byteOrderLittleEndian = 0x01
)

// Common SRID constants
const (
	SRID4326 = 4326 // WGS84
	SRID3857 = 3857 // Web Mercator
)

// Encoder encodes geometries to little-endian EWKB with an SRID. The
// returned slice is reused by the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates an encoder with SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return NewEncoderWithSRID(initialSize, SRID4326)
}

// NewEncoderWithSRID creates an encoder that tags geometries with srid
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: uint32(srid),
	}
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Encode encodes g. Only the outermost geometry carries the SRID.
func (e *Encoder) Encode(g orb.Geometry) ([]byte, error) {
	e.buf = e.buf[:0]
	e.ensureCapacity(size(g))
	if err := e.write(g, true); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// EncodePoint encodes a single point
func (e *Encoder) EncodePoint(lon, lat float64) []byte {
	b, _ := e.Encode(orb.Point{lon, lat})
	return b
}

func (e *Encoder) write(g orb.Geometry, withSRID bool) error {
	switch g := g.(type) {
	case orb.Point:
		e.header(wkbPoint, withSRID)
		e.appendPoint(g)
	case orb.LineString:
		e.header(wkbLineString, withSRID)
		e.appendPoints(g)
	case orb.Ring:
		e.header(wkbPolygon, withSRID)
		e.appendUint32(1)
		e.appendPoints(g)
	case orb.Polygon:
		e.header(wkbPolygon, withSRID)
		e.appendUint32(uint32(len(g)))
		for _, ring := range g {
			e.appendPoints(ring)
		}
	case orb.MultiPoint:
		e.header(wkbMultiPoint, withSRID)
		e.appendUint32(uint32(len(g)))
		for _, p := range g {
			e.write(p, false)
		}
	case orb.MultiLineString:
		e.header(wkbMultiLineString, withSRID)
		e.appendUint32(uint32(len(g)))
		for _, ls := range g {
			e.write(ls, false)
		}
	case orb.MultiPolygon:
		e.header(wkbMultiPolygon, withSRID)
		e.appendUint32(uint32(len(g)))
		for _, p := range g {
			e.write(p, false)
		}
	default:
		return fmt.Errorf("wkb: unsupported geometry %T", g)
	}
	return nil
}

func (e *Encoder) header(typ uint32, withSRID bool) {
	e.buf = append(e.buf, byteOrderLittleEndian)
	if !withSRID {
		e.appendUint32(typ)
		return
	}
	e.appendUint32(typ | wkbSRIDFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) appendPoints(points []orb.Point) {
	e.appendUint32(uint32(len(points)))
	for _, p := range points {
		e.appendPoint(p)
	}
}

// appendPoint writes X=lon, Y=lat
func (e *Encoder) appendPoint(p orb.Point) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(p[0]))
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(p[1]))
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
}

// size estimates the encoded length of g including the SRID
func size(g orb.Geometry) int {
	const header = 1 + 4
	switch g := g.(type) {
	case orb.Point:
		return header + 4 + 16
	case orb.LineString:
		return header + 4 + 4 + len(g)*16
	case orb.Ring:
		return header + 4 + 8 + len(g)*16
	case orb.Polygon:
		n := header + 4 + 4
		for _, r := range g {
			n += 4 + len(r)*16
		}
		return n
	case orb.MultiPoint:
		return header + 4 + 4 + len(g)*(header+16)
	case orb.MultiLineString:
		n := header + 4 + 4
		for _, ls := range g {
			n += header + 4 + len(ls)*16
		}
		return n
	case orb.MultiPolygon:
		n := header + 4 + 4
		for _, p := range g {
			n += size(p)
		}
		return n
	}
	return 0
}
