package mapfile

import (
	"strings"

	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/osm"
)

const (
	// MaxZoomTableObjects bounds the cumulative counts of a zoom table row
	MaxZoomTableObjects = 65536

	// maxWaySubGeometries is the largest ring count a signed 16-bit field can hold
	maxWaySubGeometries = 32767

	signatureLength      = 32
	signatureBlockPrefix = "###TileStart"
	signaturePOIPrefix   = "***POIStart"
	signatureWayPrefix   = "---WayStart"
)

// Special byte: layer in the high nibble, tag count in the low nibble
const (
	layerShift       = 4
	poiTagCountMask  = 0x0f
	wayTagCountMask  = 0x0f
	poiFeatureName   = 0x80
	poiFeatureHouse  = 0x40
	poiFeatureEle    = 0x20
	wayFeatureName   = 0x80
	wayFeatureHouse  = 0x40
	wayFeatureRef    = 0x20
	wayFeatureLabel  = 0x10
	wayFeatureBlocks = 0x08
	wayFeatureDouble = 0x04
)

type zoomTableRow struct {
	pois int
	ways int
}

// blockCorner returns the top-left corner of the block at row/col in
// microdegrees. Coordinates inside the block are offsets from it.
func blockCorner(sub *SubFileParameter, row, col int64) Point {
	t := maptile.New(
		uint32(sub.BoundaryTileLeft+col),
		uint32(sub.BoundaryTileTop+row),
		maptile.Zoom(sub.BaseZoomLevel),
	)
	b := t.Bound()
	return Point{
		Lat: int32(b.Max[1] * coordinatesDivisor),
		Lon: int32(b.Min[0] * coordinatesDivisor),
	}
}

// decodeBlock decodes the block held in the read buffer. Features are
// emitted as they are decoded; an error leaves earlier emissions in place.
func (d *Decoder) decodeBlock(sub *SubFileParameter, q *QueryParameters, corner Point, sink Sink) error {
	if d.header.DebugFile {
		if err := d.checkSignature(signatureBlockPrefix); err != nil {
			return err
		}
	}

	table, err := d.readZoomTable(sub)
	if err != nil {
		return err
	}
	row := q.QueryZoomLevel - sub.ZoomLevelMin
	if row < 0 || row >= len(table) {
		return formatError("query zoom level %d outside sub-file range %d-%d", q.QueryZoomLevel, sub.ZoomLevelMin, sub.ZoomLevelMax)
	}
	counts := table[row]

	firstWayOffset, err := d.buf.ReadUnsignedVarint()
	if err != nil {
		return err
	}
	if firstWayOffset < 0 {
		return formatError("invalid first way offset %d", firstWayOffset)
	}
	firstWayOffset += d.buf.Position()
	if firstWayOffset > d.buf.BufferSize() {
		return formatError("first way offset %d beyond block of %d bytes", firstWayOffset, d.buf.BufferSize())
	}

	if err := d.decodePOIs(sink, counts.pois, corner); err != nil {
		return err
	}

	if d.buf.Position() > firstWayOffset {
		return formatError("buffer position %d past first way offset %d", d.buf.Position(), firstWayOffset)
	}
	if err := d.buf.SetPosition(firstWayOffset); err != nil {
		return err
	}

	return d.decodeWays(sink, q, counts.ways, corner)
}

func (d *Decoder) checkSignature(prefix string) error {
	sig, err := d.buf.ReadUTF8StringN(signatureLength)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(sig, prefix) {
		return formatError("invalid signature %q, want prefix %q", strings.TrimRight(sig, " "), prefix)
	}
	return nil
}

// readZoomTable reads the per-zoom feature counts. Rows store increments;
// the returned rows are cumulative.
func (d *Decoder) readZoomTable(sub *SubFileParameter) ([]zoomTableRow, error) {
	rows := sub.ZoomLevelMax - sub.ZoomLevelMin + 1
	d.zoomTable = d.zoomTable[:0]

	var pois, ways int
	for row := 0; row < rows; row++ {
		p, err := d.buf.ReadUnsignedVarint()
		if err != nil {
			return nil, err
		}
		w, err := d.buf.ReadUnsignedVarint()
		if err != nil {
			return nil, err
		}
		if p < 0 || w < 0 {
			return nil, formatError("invalid zoom table increment in row %d", row)
		}
		pois += p
		ways += w
		if pois > MaxZoomTableObjects {
			return nil, formatError("invalid cumulated number of POIs in row %d: %d", row, pois)
		}
		if ways > MaxZoomTableObjects {
			return nil, formatError("invalid cumulated number of ways in row %d: %d", row, ways)
		}
		d.zoomTable = append(d.zoomTable, zoomTableRow{pois: pois, ways: ways})
	}
	return d.zoomTable, nil
}

func (d *Decoder) decodePOIs(sink Sink, count int, corner Point) error {
	d.poiTags = d.poiTags[:0]

	for i := 0; i < count; i++ {
		if d.header.DebugFile {
			if err := d.checkSignature(signaturePOIPrefix); err != nil {
				return err
			}
		}

		latOffset, err := d.buf.ReadSignedVarint()
		if err != nil {
			return err
		}
		lonOffset, err := d.buf.ReadSignedVarint()
		if err != nil {
			return err
		}

		special, err := d.buf.ReadByte()
		if err != nil {
			return err
		}
		if n := int(special & poiTagCountMask); n != 0 {
			if d.poiTags, err = d.buf.ReadTags(d.poiTags, d.header.POITags, n); err != nil {
				return err
			}
		}

		feature, err := d.buf.ReadByte()
		if err != nil {
			return err
		}

		poi := &d.poi
		*poi = POI{
			Layer: int8(special >> layerShift),
			Lat:   corner.Lat + latOffset,
			Lon:   corner.Lon + lonOffset,
		}
		tags := append(d.poiOut[:0], d.poiTags...)

		if feature&poiFeatureName != 0 {
			name, err := d.buf.ReadUTF8String()
			if err != nil {
				return err
			}
			tags = append(tags, osm.Tag{Key: TagKeyName, Value: name})
		}
		if feature&poiFeatureHouse != 0 {
			if poi.HouseNumber, err = d.buf.ReadUTF8String(); err != nil {
				return err
			}
		}
		if feature&poiFeatureEle != 0 {
			if poi.Elevation, err = d.buf.ReadSignedVarint(); err != nil {
				return err
			}
			poi.HasElevation = true
		}

		d.poiOut = tags
		poi.Tags = tags
		sink.ProcessPOI(poi)
		d.result.POIs++
	}
	return nil
}

func (d *Decoder) decodeWays(sink Sink, q *QueryParameters, count int, corner Point) error {
	d.wayTags = d.wayTags[:0]

	stringsSize, err := d.buf.ReadUnsignedVarint()
	if err != nil {
		return err
	}
	if stringsSize < 0 {
		return formatError("invalid strings block size %d", stringsSize)
	}
	stringsBase := d.buf.Position()
	if err := d.buf.SkipBytes(stringsSize); err != nil {
		return err
	}

	sigLength := 0
	if d.header.DebugFile {
		sigLength = signatureLength
	}

	for remaining := count; remaining > 0; remaining-- {
		if d.header.DebugFile {
			if err := d.checkSignature(signatureWayPrefix); err != nil {
				return err
			}
		}

		if q.UseTileBitmask {
			match, err := d.buf.ScanWays(q.QueryTileBitmask, remaining, sigLength)
			if err != nil {
				return err
			}
			if match.Remaining == 0 {
				return nil
			}
			remaining = match.Remaining
			if match.TagPosition >= 0 {
				if err := d.inheritWayTags(match.TagPosition); err != nil {
					return err
				}
			}
		} else {
			size, err := d.buf.ReadUnsignedVarint()
			if err != nil {
				return err
			}
			if size < 0 {
				return formatError("invalid way data size %d", size)
			}
			if err := d.buf.SkipBytes(2); err != nil {
				return err
			}
		}

		if err := d.decodeWay(sink, corner, stringsBase, stringsSize); err != nil {
			return err
		}
	}
	return nil
}

// inheritWayTags decodes the tags of a skipped way so that a following way
// without tag ids repeats them
func (d *Decoder) inheritWayTags(pos int) error {
	saved := d.buf.Position()
	if err := d.buf.SetPosition(pos); err != nil {
		return err
	}
	special, err := d.buf.ReadByte()
	if err != nil {
		return err
	}
	if d.wayTags, err = d.buf.ReadTags(d.wayTags, d.header.WayTags, int(special&wayTagCountMask)); err != nil {
		return err
	}
	return d.buf.SetPosition(saved)
}

func (d *Decoder) decodeWay(sink Sink, corner Point, stringsBase, stringsSize int) error {
	special, err := d.buf.ReadByte()
	if err != nil {
		return err
	}
	if n := int(special & wayTagCountMask); n != 0 {
		if d.wayTags, err = d.buf.ReadTags(d.wayTags, d.header.WayTags, n); err != nil {
			return err
		}
	}

	feature, err := d.buf.ReadByte()
	if err != nil {
		return err
	}

	way := &d.way
	*way = Way{
		Layer:             int8(special >> layerShift),
		NameOffset:        -1,
		HouseNumberOffset: -1,
		RefOffset:         -1,
		stringsBase:       stringsBase,
		strings:           d.buf,
	}
	tags := append(d.wayOut[:0], d.wayTags...)

	offsets := [...]struct {
		flag byte
		key  string
		dst  *int
	}{
		{wayFeatureName, TagKeyName, &way.NameOffset},
		{wayFeatureHouse, TagKeyHouseNumber, &way.HouseNumberOffset},
		{wayFeatureRef, TagKeyRef, &way.RefOffset},
	}
	for _, o := range offsets {
		if feature&o.flag == 0 {
			continue
		}
		off, err := d.buf.ReadUnsignedVarint()
		if err != nil {
			return err
		}
		if off < 0 || off >= stringsSize {
			return formatError("string offset %d outside strings block of %d bytes", off, stringsSize)
		}
		*o.dst = off
		if d.opts.ResolveWayStrings {
			s, err := d.buf.ReadUTF8StringAt(stringsBase + off)
			if err != nil {
				return err
			}
			tags = append(tags, osm.Tag{Key: o.key, Value: s})
		}
	}
	d.wayOut = tags
	way.Tags = tags

	// The label position is an offset from the block corner
	if feature&wayFeatureLabel != 0 {
		labelLat, err := d.buf.ReadSignedVarint()
		if err != nil {
			return err
		}
		labelLon, err := d.buf.ReadSignedVarint()
		if err != nil {
			return err
		}
		way.HasLabel = true
		way.Label = Point{Lat: corner.Lat + labelLat, Lon: corner.Lon + labelLon}
	}

	dataBlocks := 1
	if feature&wayFeatureBlocks != 0 {
		if dataBlocks, err = d.buf.ReadUnsignedVarint(); err != nil {
			return err
		}
		if dataBlocks < 1 {
			return formatError("invalid number of way data blocks %d", dataBlocks)
		}
	}
	doubleDelta := feature&wayFeatureDouble != 0

	for block := 0; block < dataBlocks; block++ {
		if err := d.decodeWayDataBlock(doubleDelta, corner); err != nil {
			return err
		}

		coords := d.nodes.coordinates()
		way.Coordinates = coords
		way.RingLengths = d.ringLengths
		way.DataBlock = block
		first := d.ringLengths[0]
		way.Closed = coords[0] == coords[first-2] && coords[1] == coords[first-1]

		sink.ProcessWay(way)
		d.result.Ways++
	}
	return nil
}

// decodeWayDataBlock reads all rings of one data block into the scratch buffers
func (d *Decoder) decodeWayDataBlock(doubleDelta bool, corner Point) error {
	rings, err := d.buf.ReadUnsignedVarint()
	if err != nil {
		return err
	}
	if rings < 1 || rings > maxWaySubGeometries {
		return formatError("invalid number of way coordinate blocks %d", rings)
	}

	d.nodes.reset()
	d.ringLengths = d.ringLengths[:0]

	for i := 0; i < rings; i++ {
		nodes, err := d.buf.ReadUnsignedVarint()
		if err != nil {
			return err
		}
		n, err := d.nodes.decode(d.buf, nodes, doubleDelta, corner)
		if err != nil {
			return err
		}
		d.ringLengths = append(d.ringLengths, n)
	}
	return nil
}
