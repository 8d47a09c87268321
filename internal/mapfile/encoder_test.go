package mapfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/require"
)

// enc writes the primitive types of the map file format
type enc struct {
	b []byte
}

func (e *enc) byte(v byte) *enc {
	e.b = append(e.b, v)
	return e
}

func (e *enc) raw(p []byte) *enc {
	e.b = append(e.b, p...)
	return e
}

func (e *enc) uvarint(v int) *enc {
	u := uint32(v)
	for u > 0x7f {
		e.b = append(e.b, byte(u&0x7f)|0x80)
		u >>= 7
	}
	e.b = append(e.b, byte(u))
	return e
}

func (e *enc) svarint(v int32) *enc {
	neg := v < 0
	u := uint32(v)
	if neg {
		u = uint32(-int64(v))
	}
	for u > 0x3f {
		e.b = append(e.b, byte(u&0x7f)|0x80)
		u >>= 7
	}
	last := byte(u)
	if neg {
		last |= 0x40
	}
	e.b = append(e.b, last)
	return e
}

func (e *enc) str(s string) *enc {
	e.uvarint(len(s))
	e.b = append(e.b, s...)
	return e
}

func (e *enc) int16(v int16) *enc {
	e.b = binary.BigEndian.AppendUint16(e.b, uint16(v))
	return e
}

func (e *enc) int32(v int32) *enc {
	e.b = binary.BigEndian.AppendUint32(e.b, uint32(v))
	return e
}

func (e *enc) int64(v int64) *enc {
	e.b = binary.BigEndian.AppendUint64(e.b, uint64(v))
	return e
}

func (e *enc) signature(s string, n int) *enc {
	e.b = append(e.b, s...)
	e.b = append(e.b, strings.Repeat(" ", n-len(s))...)
	return e
}

type testPOI struct {
	latOffset, lonOffset int32
	layer                byte
	tags                 []int
	name                 string
	houseNumber          string
	elevation            *int32
}

func (p testPOI) encode(e *enc) {
	e.svarint(p.latOffset).svarint(p.lonOffset)
	e.byte(p.layer<<4 | byte(len(p.tags)))
	for _, id := range p.tags {
		e.uvarint(id)
	}
	var feature byte
	if p.name != "" {
		feature |= poiFeatureName
	}
	if p.houseNumber != "" {
		feature |= poiFeatureHouse
	}
	if p.elevation != nil {
		feature |= poiFeatureEle
	}
	e.byte(feature)
	if p.name != "" {
		e.str(p.name)
	}
	if p.houseNumber != "" {
		e.str(p.houseNumber)
	}
	if p.elevation != nil {
		e.svarint(*p.elevation)
	}
}

// testWay describes one way record. blocks holds the data blocks, each a
// list of rings of raw lat/lon offset pairs.
type testWay struct {
	bitmask     uint16
	layer       byte
	tags        []int
	nameOffset  int // -1 for none
	refOffset   int // -1 for none
	label       *Point
	doubleDelta bool
	blocks      [][][]int32
}

func newTestWay(rings ...[]int32) testWay {
	return testWay{bitmask: 0xffff, nameOffset: -1, refOffset: -1, blocks: [][][]int32{rings}}
}

func (w testWay) body() []byte {
	e := &enc{}
	e.byte(w.layer<<4 | byte(len(w.tags)))
	for _, id := range w.tags {
		e.uvarint(id)
	}
	var feature byte
	if w.nameOffset >= 0 {
		feature |= wayFeatureName
	}
	if w.refOffset >= 0 {
		feature |= wayFeatureRef
	}
	if w.label != nil {
		feature |= wayFeatureLabel
	}
	if len(w.blocks) != 1 {
		feature |= wayFeatureBlocks
	}
	if w.doubleDelta {
		feature |= wayFeatureDouble
	}
	e.byte(feature)
	if w.nameOffset >= 0 {
		e.uvarint(w.nameOffset)
	}
	if w.refOffset >= 0 {
		e.uvarint(w.refOffset)
	}
	if w.label != nil {
		e.svarint(w.label.Lat).svarint(w.label.Lon)
	}
	if len(w.blocks) != 1 {
		e.uvarint(len(w.blocks))
	}
	for _, rings := range w.blocks {
		e.uvarint(len(rings))
		for _, raw := range rings {
			e.uvarint(len(raw) / 2)
			for _, v := range raw {
				e.svarint(v)
			}
		}
	}
	return e.b
}

func (w testWay) encode(e *enc) {
	body := w.body()
	e.uvarint(len(body) + 2)
	e.byte(byte(w.bitmask >> 8)).byte(byte(w.bitmask))
	e.raw(body)
}

// testBlock is a tile block. zoomRows holds per-row increments of the
// POI and way counts.
type testBlock struct {
	zoomRows [][2]int
	pois     []testPOI
	strings  []string
	ways     []testWay
}

func (b testBlock) encode(debug bool) []byte {
	e := &enc{}
	if debug {
		e.signature("###TileStart0,0###", signatureLength)
	}
	for _, r := range b.zoomRows {
		e.uvarint(r[0]).uvarint(r[1])
	}

	pois := &enc{}
	for _, p := range b.pois {
		if debug {
			pois.signature("***POIStart1***", signatureLength)
		}
		p.encode(pois)
	}
	e.uvarint(len(pois.b)).raw(pois.b)

	strs := &enc{}
	for _, s := range b.strings {
		strs.str(s)
	}
	e.uvarint(len(strs.b)).raw(strs.b)

	for _, w := range b.ways {
		if debug {
			e.signature("---WayStart1---", signatureLength)
		}
		w.encode(e)
	}
	return e.b
}

// testMap writes a map file with a single sub-file. Blocks are listed in
// block number order; the bounding box decides the grid size.
type testMap struct {
	debug        bool
	minLat       int32
	minLon       int32
	maxLat       int32
	maxLon       int32
	poiTags      []string
	wayTags      []string
	base         byte
	zoomMin      byte
	zoomMax      byte
	blocks       [][]byte
	water        []bool
	createdBy    string
	startZoom    int
	pointerAt    map[int]int64 // overrides block pointers
	headerMagic  string
	fileSizeDiff int64
}

func (m testMap) header(fileSize, start, size int64) []byte {
	e := &enc{}
	e.int32(4).int64(fileSize).int64(1700000000000)
	e.int32(m.minLat).int32(m.minLon).int32(m.maxLat).int32(m.maxLon)
	e.int16(256).str("Mercator")

	var flags byte
	if m.debug {
		flags |= headerFlagDebug
	}
	if m.startZoom > 0 {
		flags |= headerFlagStartZoomLevel
	}
	if m.createdBy != "" {
		flags |= headerFlagCreatedBy
	}
	e.byte(flags)
	if m.startZoom > 0 {
		e.byte(byte(m.startZoom))
	}
	if m.createdBy != "" {
		e.str(m.createdBy)
	}

	e.int16(int16(len(m.poiTags)))
	for _, t := range m.poiTags {
		e.str(t)
	}
	e.int16(int16(len(m.wayTags)))
	for _, t := range m.wayTags {
		e.str(t)
	}

	e.byte(1).byte(m.base).byte(m.zoomMin).byte(m.zoomMax)
	e.int64(start).int64(size)
	return e.b
}

func (m testMap) bytes() []byte {
	magic := m.headerMagic
	if magic == "" {
		magic = Magic
	}

	sub := &enc{}
	if m.debug {
		sub.signature("+++IndexStart+++", signatureLengthIndex)
	}
	indexLen := len(m.blocks) * BytesPerIndexEntry
	ptr := int64(len(sub.b) + indexLen)
	for i, blk := range m.blocks {
		entry := ptr
		if p, ok := m.pointerAt[i]; ok {
			entry = p
		}
		if i < len(m.water) && m.water[i] {
			entry |= indexWaterMask
		}
		sub.byte(byte(entry >> 32)).byte(byte(entry >> 24)).byte(byte(entry >> 16)).byte(byte(entry >> 8)).byte(byte(entry))
		ptr += int64(len(blk))
	}
	for _, blk := range m.blocks {
		sub.raw(blk)
	}

	headerLen := len(m.header(0, 0, 0))
	start := int64(len(magic) + 4 + headerLen)
	fileSize := start + int64(len(sub.b))

	e := &enc{}
	e.raw([]byte(magic)).int32(int32(headerLen))
	e.raw(m.header(fileSize+m.fileSizeDiff, start, int64(len(sub.b))))
	e.raw(sub.b)
	return e.b
}

// write stores the map file in a temporary directory and returns its path
func (m testMap) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.map")
	require.NoError(t, os.WriteFile(path, m.bytes(), 0o644))
	return path
}

// newGridMap returns a 2x2 block grid at base zoom 1 around 0,0 with zoom
// levels 0-2
func newGridMap(blocks ...[]byte) testMap {
	return testMap{
		minLat:  -10000000,
		minLon:  -10000000,
		maxLat:  10000000,
		maxLon:  10000000,
		poiTags: []string{"amenity=cafe", "shop=bakery"},
		wayTags: []string{"highway=residential", "building=yes", "name=a=b"},
		base:    1,
		zoomMin: 0,
		zoomMax: 2,
		blocks:  blocks,
	}
}

type recordedWay struct {
	Layer       int8
	Tags        osm.Tags
	Coordinates []int32
	RingLengths []int
	Closed      bool
	DataBlock   int
	Label       Point
	HasLabel    bool
	Name        string
}

// recordingSink copies every decoded feature
type recordingSink struct {
	pois []POI
	ways []recordedWay
}

func (s *recordingSink) ProcessPOI(poi *POI) {
	p := *poi
	p.Tags = append(osm.Tags(nil), poi.Tags...)
	s.pois = append(s.pois, p)
}

func (s *recordingSink) ProcessWay(way *Way) {
	name, _ := way.ResolveString(way.NameOffset)
	s.ways = append(s.ways, recordedWay{
		Layer:       way.Layer,
		Tags:        append(osm.Tags(nil), way.Tags...),
		Coordinates: append([]int32(nil), way.Coordinates...),
		RingLengths: append([]int(nil), way.RingLengths...),
		Closed:      way.Closed,
		DataBlock:   way.DataBlock,
		Label:       way.Label,
		HasLabel:    way.HasLabel,
		Name:        name,
	})
}
