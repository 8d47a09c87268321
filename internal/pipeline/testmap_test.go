package pipeline

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/wegman-software/mapfile-go/internal/mapfile"
)

// mapWriter appends the primitive types of the map file format
type mapWriter struct {
	b []byte
}

func (w *mapWriter) byte(v byte) { w.b = append(w.b, v) }

func (w *mapWriter) uvarint(v int) {
	u := uint32(v)
	for u > 0x7f {
		w.b = append(w.b, byte(u&0x7f)|0x80)
		u >>= 7
	}
	w.b = append(w.b, byte(u))
}

func (w *mapWriter) svarint(v int32) {
	neg := v < 0
	u := uint32(v)
	if neg {
		u = uint32(-int64(v))
	}
	for u > 0x3f {
		w.b = append(w.b, byte(u&0x7f)|0x80)
		u >>= 7
	}
	last := byte(u)
	if neg {
		last |= 0x40
	}
	w.b = append(w.b, last)
}

func (w *mapWriter) str(s string) {
	w.uvarint(len(s))
	w.b = append(w.b, s...)
}

func (w *mapWriter) int16(v int16) { w.b = binary.BigEndian.AppendUint16(w.b, uint16(v)) }
func (w *mapWriter) int32(v int32) { w.b = binary.BigEndian.AppendUint32(w.b, uint32(v)) }
func (w *mapWriter) int64(v int64) { w.b = binary.BigEndian.AppendUint64(w.b, uint64(v)) }

const micro = 1000000

// cityBlock encodes the only block of the test map: a cafe, a square
// building and a road, all visible from zoom 0
func cityBlock() []byte {
	corner := maptile.New(0, 0, 0).Bound()
	cornerLat := int32(corner.Max[1] * micro)
	cornerLon := int32(corner.Min[0] * micro)

	b := &mapWriter{}
	// zoom table rows for zoom 0 and 1
	b.uvarint(1)
	b.uvarint(2)
	b.uvarint(0)
	b.uvarint(0)

	poi := &mapWriter{}
	poi.svarint(52500000 - cornerLat)
	poi.svarint(13400000 - cornerLon)
	poi.byte(0<<4 | 1)
	poi.uvarint(0) // amenity=cafe
	poi.byte(0x80)
	poi.str("Café Eins")
	b.uvarint(len(poi.b))
	b.b = append(b.b, poi.b...)

	// empty strings block
	b.uvarint(0)

	building := wayBody(1, [][]int32{{
		50*micro - cornerLat, 10*micro - cornerLon,
		micro, 0,
		0, micro,
		-micro, 0,
		0, -micro,
	}})
	road := wayBody(0, [][]int32{{
		40*micro - cornerLat, 0 - cornerLon,
		micro, micro,
	}})
	for _, body := range [][]byte{building, road} {
		b.uvarint(len(body) + 2)
		b.byte(0xff)
		b.byte(0xff)
		b.b = append(b.b, body...)
	}
	return b.b
}

func wayBody(tag int, rings [][]int32) []byte {
	w := &mapWriter{}
	w.byte(0<<4 | 1)
	w.uvarint(tag)
	w.byte(0)
	w.uvarint(len(rings))
	for _, raw := range rings {
		w.uvarint(len(raw) / 2)
		for _, v := range raw {
			w.svarint(v)
		}
	}
	return w.b
}

// writeTestMap writes a single block map file at base zoom 0 covering
// lat -10..60, lon -10..20 with zoom levels 0-1
func writeTestMap(t *testing.T) string {
	t.Helper()

	block := cityBlock()
	sub := &mapWriter{}
	ptr := int64(mapfile.BytesPerIndexEntry)
	for shift := 32; shift >= 0; shift -= 8 {
		sub.byte(byte(ptr >> uint(shift)))
	}
	sub.b = append(sub.b, block...)

	header := func(fileSize, start, size int64) []byte {
		h := &mapWriter{}
		h.int32(4)
		h.int64(fileSize)
		h.int64(1700000000000)
		h.int32(-10 * micro)
		h.int32(-10 * micro)
		h.int32(60 * micro)
		h.int32(20 * micro)
		h.int16(256)
		h.str("Mercator")
		h.byte(0)
		h.int16(1)
		h.str("amenity=cafe")
		h.int16(2)
		h.str("highway=residential")
		h.str("building=yes")
		h.byte(1)
		h.byte(0)
		h.byte(0)
		h.byte(1)
		h.int64(start)
		h.int64(size)
		return h.b
	}

	headerLen := len(header(0, 0, 0))
	start := int64(len(mapfile.Magic) + 4 + headerLen)
	fileSize := start + int64(len(sub.b))

	out := &mapWriter{}
	out.b = append(out.b, mapfile.Magic...)
	out.int32(int32(headerLen))
	out.b = append(out.b, header(fileSize, start, int64(len(sub.b)))...)
	out.b = append(out.b, sub.b...)

	path := filepath.Join(t.TempDir(), "city.map")
	if err := os.WriteFile(path, out.b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
